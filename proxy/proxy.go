package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/airchains-network/evm-ledger/executor"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// the ledger has no blocks; everything reads as block 1
const blockNumber = 1

const shutdownTimeout = 5 * time.Second

// JSON-RPC 2.0 error codes
const (
	codeParseError     = -32700
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeServerError    = -32000
	codeReverted       = 3
)

type rpcRequest struct {
	Jsonrpc string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return e.Message
}

// callArgs is the eth_call request object. Clients send the calldata as either input or data.
type callArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

func (a *callArgs) data() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

// Server answers JSON-RPC requests against one executor
type Server struct {
	exec     *executor.Executor
	receipts *executor.ReceiptStore
	ws       *WebSocketManager
	log      *logrus.Logger
}

// NewServer creates the server and starts its websocket fan-out loop
func NewServer(exec *executor.Executor, receipts *executor.ReceiptStore, log *logrus.Logger) *Server {
	s := &Server{
		exec:     exec,
		receipts: receipts,
		ws:       NewWebSocketManager(log),
		log:      log,
	}
	go s.ws.Run()
	return s
}

// Close stops the websocket fan-out loop and drops its clients
func (s *Server) Close() {
	s.ws.Stop()
}

// Handler serves JSON-RPC on POST / and the receipt feed on GET /ws
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %s - %s %s %d\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
			)
		},
	}))
	router.Use(gin.Recovery())
	router.POST("/", s.handleRPC)
	upgrader := newUpgrader()
	router.GET("/ws", func(c *gin.Context) {
		handleWebSocket(c, upgrader, s.ws)
	})
	return router
}

// Start launches the JSON-RPC server on rpcAddr and, when wsAddr is set, a dedicated
// websocket listener on wsAddr. Both are shut down when ctx is canceled.
func Start(ctx context.Context, rpcAddr, wsAddr string, exec *executor.Executor, receipts *executor.ReceiptStore, log *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	s := NewServer(exec, receipts, log)
	defer s.Close()

	servers := []*http.Server{{Addr: rpcAddr, Handler: s.Handler()}}
	if wsAddr != "" && wsAddr != rpcAddr {
		wsRouter := gin.New()
		wsRouter.Use(gin.Recovery())
		upgrader := newUpgrader()
		wsRouter.GET("/", func(c *gin.Context) {
			handleWebSocket(c, upgrader, s.ws)
		})
		wsServer := &http.Server{Addr: wsAddr, Handler: wsRouter}
		servers = append(servers, wsServer)
		go func() {
			log.Infof("Starting WebSocket server on %s", wsAddr)
			if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("WebSocket server error: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down RPC server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Failed to shut down server on %s: %v", srv.Addr, err)
			}
		}
	}()

	log.Infof("Starting RPC server on %s", rpcAddr)
	if err := servers[0].ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRPC(c *gin.Context) {
	var req rpcRequest
	if err := c.BindJSON(&req); err != nil {
		s.log.Errorf("Failed to parse JSON-RPC request: %v", err)
		c.JSON(http.StatusBadRequest, rpcResponse{
			Jsonrpc: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "invalid JSON-RPC request"},
			ID:      json.RawMessage("null"),
		})
		return
	}

	resp := rpcResponse{Jsonrpc: "2.0", ID: req.ID}
	result, err := s.dispatch(c, req.Method, req.Params)
	if err == nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		var rerr *rpcError
		if !errors.As(err, &rerr) {
			rerr = &rpcError{Code: codeServerError, Message: err.Error()}
		}
		resp.Result = nil
		resp.Error = rerr
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) dispatch(c *gin.Context, method string, params []json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_chainId":
		return hexutil.Uint64(s.exec.Config().ChainID), nil

	case "eth_blockNumber":
		return hexutil.Uint64(blockNumber), nil

	case "eth_getBalance":
		var addr common.Address
		if err := decodeParam(params, 0, &addr); err != nil {
			return nil, err
		}
		var balance *uint256.Int
		if err := s.exec.View(func(l *state.Ledger) error {
			balance = l.Account(addr).Balance
			return nil
		}); err != nil {
			return nil, err
		}
		return (*hexutil.Big)(balance.ToBig()), nil

	case "eth_getTransactionCount":
		var addr common.Address
		if err := decodeParam(params, 0, &addr); err != nil {
			return nil, err
		}
		var nonce uint64
		if err := s.exec.View(func(l *state.Ledger) error {
			nonce = l.Account(addr).Nonce
			return nil
		}); err != nil {
			return nil, err
		}
		return hexutil.Uint64(nonce), nil

	case "eth_getCode":
		var addr common.Address
		if err := decodeParam(params, 0, &addr); err != nil {
			return nil, err
		}
		var code []byte
		if err := s.exec.View(func(l *state.Ledger) error {
			code = l.Account(addr).Code
			return nil
		}); err != nil {
			return nil, err
		}
		return hexutil.Bytes(code), nil

	case "eth_getStorageAt":
		var (
			addr common.Address
			slot string
		)
		if err := decodeParam(params, 0, &addr); err != nil {
			return nil, err
		}
		if err := decodeParam(params, 1, &slot); err != nil {
			return nil, err
		}
		key := common.HexToHash(slot)
		var value common.Hash
		if err := s.exec.View(func(l *state.Ledger) error {
			value = l.Storage(addr, key)
			return nil
		}); err != nil {
			return nil, err
		}
		return hexutil.Bytes(value[:]), nil

	case "eth_call":
		return s.call(c, params)

	case "eth_sendRawTransaction":
		return s.sendRawTransaction(c, params)

	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := decodeParam(params, 0, &hash); err != nil {
			return nil, err
		}
		receipt, err := s.receipts.Get(hash)
		if err != nil {
			return nil, err
		}
		if receipt == nil {
			return nil, nil
		}
		return receipt, nil

	case "ledger_stateRoot":
		var root common.Hash
		if err := s.exec.View(func(l *state.Ledger) error {
			root = state.StateRoot(l)
			return nil
		}); err != nil {
			return nil, err
		}
		return root, nil

	default:
		return nil, &rpcError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("the method %s does not exist/is not available", method),
		}
	}
}

func (s *Server) call(c *gin.Context, params []json.RawMessage) (interface{}, error) {
	var args callArgs
	if err := decodeParam(params, 0, &args); err != nil {
		return nil, err
	}
	if args.To == nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "eth_call requires a target address"}
	}

	req := executor.CallRequest{To: *args.To, Input: args.data()}
	if args.From != nil {
		req.Caller = *args.From
	}
	if args.Gas != nil {
		req.GasLimit = uint64(*args.Gas)
	}
	var err error
	if req.Value, err = toUint256(args.Value); err != nil {
		return nil, err
	}
	if req.GasPrice, err = toUint256(args.GasPrice); err != nil {
		return nil, err
	}

	res, err := s.exec.Simulate(c.Request.Context(), req)
	if err != nil {
		return nil, err
	}
	switch {
	case res.Reason.IsSucceed():
		return hexutil.Bytes(res.Output), nil
	case res.Reason.IsRevert():
		return nil, &rpcError{Code: codeReverted, Message: "execution reverted", Data: hexutil.Bytes(res.Output)}
	default:
		return nil, &rpcError{Code: codeServerError, Message: res.Reason.String()}
	}
}

func (s *Server) sendRawTransaction(c *gin.Context, params []json.RawMessage) (interface{}, error) {
	var raw hexutil.Bytes
	if err := decodeParam(params, 0, &raw); err != nil {
		return nil, err
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("failed to decode transaction: %v", err)}
	}

	res, from, err := s.exec.ApplyTransaction(c.Request.Context(), tx)
	if err != nil {
		s.log.Warnf("Rejected transaction %s: %v", tx.Hash().Hex(), err)
		return nil, err
	}
	if res.Reason.IsFatal() {
		// nothing was applied, so there is no receipt and the tx stays replayable
		s.log.Warnf("Aborted transaction %s from %s: %s", tx.Hash().Hex(), from.Hex(), res.Reason)
		return nil, &rpcError{Code: codeServerError, Message: fmt.Sprintf("transaction aborted: %s", res.Reason)}
	}

	receipt := executor.NewReceipt(tx, res)
	if err := s.receipts.Put(receipt); err != nil {
		// the state change is already committed; the receipt is only lost for queries
		s.log.Errorf("Failed to store receipt of %s: %v", tx.Hash().Hex(), err)
	}
	s.ws.BroadcastReceipt(receipt)
	if res.Failed() {
		s.log.Warnf("Transaction %s from %s failed: %s", tx.Hash().Hex(), from.Hex(), executor.StatusReason(res))
	}
	return tx.Hash(), nil
}

// decodeParam unmarshals the i-th positional parameter into v
func decodeParam(params []json.RawMessage, i int, v interface{}) error {
	if i >= len(params) {
		return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("missing value for required argument %d", i)}
	}
	if err := json.Unmarshal(params[i], v); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid argument %d: %v", i, err)}
	}
	return nil
}

func toUint256(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return nil, nil
	}
	b := (*big.Int)(v)
	if b.Sign() < 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "negative quantity"}
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, &rpcError{Code: codeInvalidParams, Message: "quantity exceeds 256 bits"}
	}
	return u, nil
}
