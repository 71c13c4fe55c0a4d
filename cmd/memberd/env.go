package main

import (
	"net"
	"strings"

	"github.com/dogmatiq/ferrite"
)

var transport = ferrite.
	Enum("MEMBERD_TRANSPORT", "the membership service the daemon connects to").
	WithMembers("memory", "etcd", "rpc").
	WithDefault("memory").
	Required()

var etcdEndpoints = ferrite.
	String("MEMBERD_ETCD_ENDPOINTS", "a comma-separated list of etcd endpoints").
	WithDefault("localhost:2379").
	Required()

var etcdPrefix = ferrite.
	String("MEMBERD_ETCD_PREFIX", "the etcd key prefix shared by the cluster").
	WithDefault("/gomember").
	Required()

var nodeID = ferrite.
	Signed[int]("MEMBERD_NODE_ID", "the cluster node ID of this host").
	WithMinimum(1).
	Required()

var nodeName = ferrite.
	String("MEMBERD_NODE_NAME", "the cluster node name of this host").
	Optional()

var nodeAddr = ferrite.
	String("MEMBERD_NODE_ADDR", "the IP address other nodes reach this host at").
	WithConstraint(
		"must be an IP address",
		func(v string) bool {
			return net.ParseIP(v) != nil
		},
	).
	Optional()

var rpcAddr = ferrite.
	String("MEMBERD_RPC_ADDR", "the address of the membership rpc server").
	WithDefault("127.0.0.1:7946").
	WithConstraint(
		"must be a network address",
		isNetworkAddress,
	).
	Required()

var registryKind = ferrite.
	Enum("MEMBERD_REGISTRY", "where the per node resource entries are kept").
	WithMembers("configfs", "memory").
	WithDefault("configfs").
	Required()

var configfsRoot = ferrite.
	String("MEMBERD_CONFIGFS_ROOT", "the configfs directory of the lock manager cluster").
	WithDefault("/sys/kernel/config/dlm/cluster").
	Required()

var exemptPrefix = ferrite.
	String("MEMBERD_EXEMPT_PREFIX", "lock spaces starting with this prefix never block a cluster shutdown").
	Optional()

var maxNodes = ferrite.
	Signed[int]("MEMBERD_MAX_NODES", "the largest node list accepted from the membership service").
	WithMinimum(1).
	WithDefault(128).
	Required()

var metricsAddr = ferrite.
	String("MEMBERD_METRICS_ADDR", "the address the metrics server listens on").
	WithDefault(":9464").
	WithConstraint(
		"must be a network address",
		isNetworkAddress,
	).
	Required()

var logLevel = ferrite.
	Enum("MEMBERD_LOG_LEVEL", "the minimum level of the logs written").
	WithMembers("debug", "info", "warn", "error").
	WithDefault("info").
	Required()

func isNetworkAddress(v string) bool {
	_, port, err := net.SplitHostPort(v)
	return err == nil && port != ""
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
