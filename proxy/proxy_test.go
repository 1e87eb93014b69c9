package proxy

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/executor"
	"github.com/airchains-network/evm-ledger/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// returns 0x2a from every call
var answerCode = common.FromHex("602a60005260206000f3")

type testNode struct {
	srv  *Server
	exec *executor.Executor
	ts   *httptest.Server
	key  *ecdsa.PrivateKey
	from common.Address
}

// recurses into itself until the depth limit: CALL(GAS, ADDRESS, 0, 0, 0, 0, 0) STOP
var recurseCode = common.FromHex("60006000600060006000305af100")

var (
	answerAddress  = common.HexToAddress("0x3000000000000000000000000000000000000003")
	recurseAddress = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func newTestNode(t *testing.T) *testNode {
	return newTestNodeWithConfig(t, executor.DefaultConfig())
}

func newTestNodeWithConfig(t *testing.T, cfg executor.Config) *testNode {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	stateDB, err := db.NewMemLevelDB()
	require.NoError(t, err)
	receiptDB, err := db.NewMemLevelDB()
	require.NoError(t, err)
	ledger, err := state.Open(stateDB, log)
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	_, err = state.InitGenesis(ledger, &state.Genesis{
		Accounts: []state.GenesisAlloc{
			{Address: from, Balance: (*math.HexOrDecimal256)(big.NewInt(1_000_000_000))},
			{Address: answerAddress, Code: answerCode},
			{Address: recurseAddress, Code: recurseCode},
		},
	})
	require.NoError(t, err)

	exec := executor.New(ledger, cfg, log)
	srv := NewServer(exec, executor.NewReceiptStore(receiptDB), log)
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testNode{srv: srv, exec: exec, ts: ts, key: key, from: from}
}

func (n *testNode) rpc(t *testing.T, method string, params ...interface{}) rpcResponse {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp, err := http.Post(n.ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.JSONEq(t, "7", string(out.ID))
	return out
}

func (n *testNode) signedTransfer(t *testing.T, nonce uint64, to common.Address) *ethtypes.Transaction {
	return n.signedTx(t, nonce, to, 21_000, big.NewInt(1000))
}

func (n *testNode) signedTx(t *testing.T, nonce uint64, to common.Address, gas uint64, value *big.Int) *ethtypes.Transaction {
	t.Helper()
	chainID := new(big.Int).SetUint64(n.exec.Config().ChainID)
	tx, err := ethtypes.SignNewTx(n.key, ethtypes.LatestSignerForChainID(chainID), &ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
		Gas:      gas,
		To:       &to,
		Value:    value,
	})
	require.NoError(t, err)
	return tx
}

func TestQueries(t *testing.T) {
	n := newTestNode(t)

	resp := n.rpc(t, "eth_chainId")
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"0x539"`, string(resp.Result))

	resp = n.rpc(t, "eth_blockNumber")
	require.JSONEq(t, `"0x1"`, string(resp.Result))

	resp = n.rpc(t, "eth_getBalance", n.from, "latest")
	require.JSONEq(t, `"0x3b9aca00"`, string(resp.Result))

	resp = n.rpc(t, "eth_getCode", "0x3000000000000000000000000000000000000003", "latest")
	require.JSONEq(t, `"0x602a60005260206000f3"`, string(resp.Result))

	resp = n.rpc(t, "eth_getStorageAt", "0x3000000000000000000000000000000000000003", "0x0", "latest")
	require.JSONEq(t, `"0x0000000000000000000000000000000000000000000000000000000000000000"`, string(resp.Result))

	resp = n.rpc(t, "eth_call", map[string]string{
		"to":   "0x3000000000000000000000000000000000000003",
		"data": "0x",
	}, "latest")
	require.Nil(t, resp.Error)
	var out hexutil.Bytes
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	require.Equal(t, common.LeftPadBytes([]byte{0x2a}, 32), []byte(out))

	resp = n.rpc(t, "eth_getTransactionReceipt", common.HexToHash("0xabcd"))
	require.Nil(t, resp.Error)
	require.JSONEq(t, "null", string(resp.Result))
}

func TestErrors(t *testing.T) {
	n := newTestNode(t)

	resp := n.rpc(t, "eth_mining")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	resp = n.rpc(t, "eth_getBalance")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = n.rpc(t, "eth_call", map[string]string{"data": "0x"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = n.rpc(t, "eth_sendRawTransaction", "0x1234")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	// wrong nonce is a validation error and leaves no receipt
	tx := n.signedTransfer(t, 5, common.HexToAddress("0x2000000000000000000000000000000000000002"))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	resp = n.rpc(t, "eth_sendRawTransaction", hexutil.Bytes(raw))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)
	require.Contains(t, resp.Error.Message, executor.ErrInvalidNonce.Error())

	resp = n.rpc(t, "eth_getTransactionReceipt", tx.Hash())
	require.JSONEq(t, "null", string(resp.Result))
}

func TestSendRawTransactionStreamsReceipt(t *testing.T) {
	n := newTestNode(t)

	wsURL := "ws" + strings.TrimPrefix(n.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return n.srv.ws.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	to := common.HexToAddress("0x2000000000000000000000000000000000000002")
	tx := n.signedTransfer(t, 0, to)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	resp := n.rpc(t, "eth_sendRawTransaction", hexutil.Bytes(raw))
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"`+tx.Hash().Hex()+`"`, string(resp.Result))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var note struct {
		Method string `json:"method"`
		Params struct {
			Result ethtypes.Receipt `json:"result"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(msg, &note))
	require.Equal(t, "ledger_receipt", note.Method)
	require.Equal(t, tx.Hash(), note.Params.Result.TxHash)
	require.Equal(t, ethtypes.ReceiptStatusSuccessful, note.Params.Result.Status)

	resp = n.rpc(t, "eth_getTransactionReceipt", tx.Hash())
	var receipt ethtypes.Receipt
	require.NoError(t, json.Unmarshal(resp.Result, &receipt))
	require.Equal(t, uint64(21_000), receipt.GasUsed)

	resp = n.rpc(t, "eth_getBalance", to, "latest")
	require.JSONEq(t, `"0x3e8"`, string(resp.Result))
	resp = n.rpc(t, "eth_getTransactionCount", n.from, "latest")
	require.JSONEq(t, `"0x1"`, string(resp.Result))

	resp = n.rpc(t, "ledger_stateRoot")
	var root common.Hash
	require.NoError(t, json.Unmarshal(resp.Result, &root))
	n.exec.View(func(l *state.Ledger) error {
		require.Equal(t, state.StateRoot(l), root)
		return nil
	})
}

func TestAbortedTransactionLeavesNoReceipt(t *testing.T) {
	cfg := executor.DefaultConfig()
	cfg.MaxCallDepth = 2
	n := newTestNodeWithConfig(t, cfg)

	rootResp := n.rpc(t, "ledger_stateRoot")
	require.Nil(t, rootResp.Error)

	tx := n.signedTx(t, 0, recurseAddress, 500_000, new(big.Int))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	resp := n.rpc(t, "eth_sendRawTransaction", hexutil.Bytes(raw))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "transaction aborted")

	resp = n.rpc(t, "eth_getTransactionReceipt", tx.Hash())
	require.Nil(t, resp.Error)
	require.JSONEq(t, "null", string(resp.Result))

	resp = n.rpc(t, "eth_getTransactionCount", n.from, "latest")
	require.JSONEq(t, `"0x0"`, string(resp.Result))
	resp = n.rpc(t, "ledger_stateRoot")
	require.JSONEq(t, string(rootResp.Result), string(resp.Result))
}

func TestWebSocketManagerStop(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	manager := NewWebSocketManager(log)

	done := make(chan struct{})
	go func() {
		manager.Run()
		close(done)
	}()

	manager.Stop()
	manager.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	require.Zero(t, manager.ClientCount())
}
