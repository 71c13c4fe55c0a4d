package etcd

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ugorji/go/codec"
	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/danl5/gomember/pkg/model"
)

const (
	nodesDir    = "nodes"
	repliesDir  = "replies"
	shutdownKey = "shutdown"

	replyYes = "yes"
	replyNo  = "no"
)

var jsonHandle = &codec.JsonHandle{}

// keys lays out the cluster key space under a prefix
type keys struct {
	prefix string
}

func (k keys) root() string {
	return k.prefix + "/"
}

func (k keys) nodes() string {
	return k.prefix + "/" + nodesDir + "/"
}

func (k keys) node(id int) string {
	return k.nodes() + strconv.Itoa(id)
}

func (k keys) reply(id int) string {
	return k.prefix + "/" + repliesDir + "/" + strconv.Itoa(id)
}

func (k keys) shutdown() string {
	return k.prefix + "/" + shutdownKey
}

// nodeID returns the node ID of a node key
func (k keys) nodeID(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, k.nodes())
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

func encodeNode(n model.Node) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(n); err != nil {
		return nil, fmt.Errorf("encode node %d: %w", n.ID, err)
	}
	return out, nil
}

func decodeNode(data []byte) (model.Node, error) {
	var n model.Node
	if err := codec.NewDecoderBytes(data, jsonHandle).Decode(&n); err != nil {
		return model.Node{}, fmt.Errorf("decode node: %w", err)
	}
	if err := n.Validate(); err != nil {
		return model.Node{}, fmt.Errorf("decode node: %w", err)
	}
	return n, nil
}

// decodeNodes decodes node records sorted by ID. A single bad record fails
// the whole listing.
func decodeNodes(kvs []*mvccpb.KeyValue) ([]model.Node, error) {
	nodes := make([]model.Node, 0, len(kvs))
	for _, kv := range kvs {
		n, err := decodeNode(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("etcd node record %s: %w", string(kv.Key), err)
		}
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b model.Node) int { return a.ID - b.ID })
	return nodes, nil
}

func encodeReply(approve bool) string {
	if approve {
		return replyYes
	}
	return replyNo
}
