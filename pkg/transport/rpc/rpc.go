package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/silenceper/pool"
	"github.com/ugorji/go/codec"

	"github.com/danl5/gomember/pkg/model"
)

const (
	// initial capacity of the pool
	poolInitCap = 0
	// maximum number of idle connections in the pool
	poolMaxIdle = 5
	// maximum time a connection can be idle before being closed
	poolMaxIdleTime = 15
	// maximum number of connections in the pool
	poolMaxCap = 20

	handleMethod = "RPCHandler.Handle"
	pingMethod   = "RPCHandler.Ping"
)

type RPCHandler struct {
	CmdHandler model.CommandHandler
}

func (h *RPCHandler) Handle(request *model.Request, response *model.Response) error {
	return h.CmdHandler(request, response)
}

func (h *RPCHandler) Ping(_ struct{}, reply *string) error {
	*reply = "pong"
	return nil
}

// Decode converts a payload received as a generic msgpack value into target,
// which must be a non-nil pointer.
func Decode(raw any, target any) error {
	decodeHook := func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t.Kind() == reflect.String && f.Kind() == reflect.Slice {
			if bytes, ok := data.([]uint8); ok {
				return string(bytes), nil
			}
		}
		return data, nil
	}

	paramCheck := func(a any) bool {
		t := reflect.TypeOf(a)
		if t != nil && t.Kind() == reflect.Ptr {
			return !reflect.ValueOf(a).IsNil()
		}

		return false
	}

	if !paramCheck(target) {
		return fmt.Errorf("wrong receiver for decode")
	}

	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook: decodeHook,
		TagName:    "json",
		Result:     target,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return err
	}

	return nil
}

func NewServer(logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("new rpc server, logger is nil")
	}

	return &Server{
		conns:  map[net.Conn]struct{}{},
		logger: logger.With("component", "rpc server"),
	}, nil
}

type Server struct {
	rpcHandler *RPCHandler
	listener   net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Start initiates the server to begin listening on the specified address.
func (s *Server) Start(listenAddress string, handler model.CommandHandler, serverConfig model.TransportConfig) error {
	cfg, ok := serverConfig.(*Config)
	if !ok {
		return errors.New("not a valid rpc server config")
	}

	err := cfg.Validate()
	if err != nil {
		return err
	}

	s.rpcHandler = &RPCHandler{
		CmdHandler: handler,
	}

	err = s.startServer(listenAddress, s.rpcHandler, cfg)
	if err != nil {
		s.logger.Error("failed to start rpc server", "error", err.Error())
		return err
	}

	s.logger.Info("rpc server started", "listenAddress", s.listener.Addr().String())
	return nil
}

// Addr returns the listening address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections, closes the open ones and waits for
// their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed || s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) startServer(listenAddress string, handler *RPCHandler, cfg *Config) error {
	tlsConfig, err := s.loadTLSConfig(cfg)
	if err != nil {
		return err
	}

	rpcServer := rpc.NewServer()
	err = rpcServer.Register(handler)
	if err != nil {
		return err
	}

	var l net.Listener
	if tlsConfig != nil {
		l, err = tls.Listen("tcp", listenAddress, tlsConfig)
		if err != nil {
			return err
		}
	} else {
		l, err = net.Listen("tcp", listenAddress)
		if err != nil {
			return err
		}
	}
	s.listener = l

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error("failed to accept rpc connection", "error", err.Error())
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.untrack(conn)
				rpcCodec := codec.MsgpackSpecRpc.ServerCodec(conn, &codec.MsgpackHandle{})
				rpcServer.ServeCodec(rpcCodec)
			}()
		}
	}()
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) loadTLSConfig(cfg *Config) (*tls.Config, error) {
	// if no TLS config is provided, return nil
	if cfg.ServerCert == "" || cfg.ServerKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.ServerCert, cfg.ServerKey)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	caCertPool, err := loadCertPool(cfg.ServerCAs)
	if err != nil {
		return nil, err
	}
	config.ClientCAs = caCertPool
	config.ClientAuth = tls.RequireAndVerifyClientCert
	if cfg.ServerSkipVerify {
		config.ClientAuth = tls.NoClientCert
	}

	return config, nil
}

func NewClient(logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("new rpc client, logger is nil")
	}

	return &Client{
		logger: logger.With("component", "rpc client"),
	}, nil
}

type Client struct {
	// server address to client
	// string -> pool.Pool
	clients sync.Map

	logger *slog.Logger
}

// InitConnection creates the connection pool of a membership server.
func (c *Client) InitConnection(address string, cfg model.TransportConfig) error {
	clientCfg, ok := cfg.(*Config)
	if !ok {
		return errors.New("not a valid rpc client config")
	}

	p, err := c.createClient(address, clientCfg)
	if err != nil {
		c.logger.Error("error connecting to membership server", "address", address)
		return err
	}
	if old, loaded := c.clients.Swap(address, p); loaded {
		old.(pool.Pool).Release()
	}
	return nil
}

// Release closes every pooled connection
func (c *Client) Release() {
	c.clients.Range(func(key, value any) bool {
		value.(pool.Pool).Release()
		c.clients.Delete(key)
		return true
	})
}

// Ping checks that the membership server answers
func (c *Client) Ping(ctx context.Context, address string) error {
	var reply string
	return c.call(ctx, address, pingMethod, struct{}{}, &reply)
}

// SendRequest sends the command request
func (c *Client) SendRequest(ctx context.Context, address string, request *model.Request, response *model.Response) error {
	err := c.call(ctx, address, handleMethod, request, response)
	if err != nil {
		return err
	}

	c.logger.Debug("send rpc request", "command", request.CommandCode.String(), "to", address)
	return nil
}

func (c *Client) call(ctx context.Context, address, method string, args any, reply any) error {
	rpcClient, err := c.getClient(address)
	if err != nil {
		return err
	}

	call := rpcClient.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		c.discardClient(address, rpcClient)
		return ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		c.discardClient(address, rpcClient)
		return fmt.Errorf("failed to call %s: %w", method, call.Error)
	}

	// put back to pool if no error
	if err := c.putClient(address, rpcClient); err != nil {
		c.logger.Error("failed to put rpc client back to pool", "error", err.Error())
	}
	return nil
}

func (c *Client) createClient(address string, cfg *Config) (pool.Pool, error) {
	tlsConfig, err := c.loadTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	poolConfig := &pool.Config{
		InitialCap:  poolInitCap,
		MaxIdle:     poolMaxIdle,
		MaxCap:      poolMaxCap,
		IdleTimeout: poolMaxIdleTime * time.Second,
		Factory: func() (interface{}, error) {
			var (
				conn    net.Conn
				dialErr error
			)
			dialer := &net.Dialer{
				Timeout: cfg.connectTimeout(),
			}
			if tlsConfig != nil {
				conn, dialErr = tls.DialWithDialer(dialer, "tcp", address, tlsConfig)
			} else {
				conn, dialErr = dialer.Dial("tcp", address)
			}
			if dialErr != nil {
				return nil, dialErr
			}

			rpcCodec := codec.MsgpackSpecRpc.ClientCodec(conn, &codec.MsgpackHandle{})
			return rpc.NewClientWithCodec(rpcCodec), nil
		},
		Close: func(v interface{}) error { return v.(*rpc.Client).Close() },
		Ping: func(v interface{}) error {
			var reply string
			return v.(*rpc.Client).Call(pingMethod, struct{}{}, &reply)
		},
	}
	p, err := pool.NewChannelPool(poolConfig)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (c *Client) getPool(address string) (pool.Pool, error) {
	clientPoolInf, ok := c.clients.Load(address)
	if !ok {
		return nil, fmt.Errorf("no client pool found for %s", address)
	}
	return clientPoolInf.(pool.Pool), nil
}

func (c *Client) getClient(address string) (*rpc.Client, error) {
	clientPool, err := c.getPool(address)
	if err != nil {
		return nil, err
	}
	conn, err := clientPool.Get()
	if err != nil {
		return nil, fmt.Errorf("can not get client from pool for %s: %w", address, err)
	}

	return conn.(*rpc.Client), nil
}

func (c *Client) putClient(address string, client *rpc.Client) error {
	clientPool, err := c.getPool(address)
	if err != nil {
		_ = client.Close()
		return err
	}
	err = clientPool.Put(client)
	if err != nil {
		return fmt.Errorf("failed to put client back to pool for %s: %w", address, err)
	}

	return nil
}

// discardClient drops a connection that may still carry a pending reply
func (c *Client) discardClient(address string, client *rpc.Client) {
	clientPool, err := c.getPool(address)
	if err != nil {
		_ = client.Close()
		return
	}
	if err := clientPool.Close(client); err != nil {
		c.logger.Debug("failed to close rpc client", "error", err.Error())
	}
}

func (c *Client) loadTLSConfig(cfg *Config) (*tls.Config, error) {
	// if no TLS config is provided, return nil
	if cfg.ClientCert == "" || cfg.ClientKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	caCertPool, err := loadCertPool(cfg.ClientCAs)
	if err != nil {
		return nil, err
	}
	config.RootCAs = caCertPool
	config.InsecureSkipVerify = cfg.ClientSkipVerify

	return config, nil
}

func loadCertPool(files []string) (*x509.CertPool, error) {
	caCertPool := x509.NewCertPool()
	for _, file := range files {
		caCert, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("no certificates found in %s", file)
		}
	}
	return caCertPool, nil
}
