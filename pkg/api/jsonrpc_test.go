package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luxfi/log"
	"github.com/luxfi/margin/pkg/feed"
	"github.com/luxfi/margin/pkg/margin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughCustody acknowledges every transfer at 18 native decimals.
type passthroughCustody struct{}

func (passthroughCustody) Decimals() uint8 { return 18 }
func (passthroughCustody) TransferIn(string, *big.Int) error {
	return nil
}
func (passthroughCustody) TransferOut(string, *big.Int) error {
	return nil
}

func newTestServer(t *testing.T) (*JSONRPCServer, *feed.Manual) {
	t.Helper()

	level, _ := log.ToLevel("error")
	logger := log.NewTestLogger(level)

	auth := margin.NewStaticAuthorizer("admin")
	require.NoError(t, auth.GrantLiquidator("admin", "keeper"))

	engine, err := margin.NewEngine(margin.Config{
		Custody: passthroughCustody{},
		Auth:    auth,
		Logger:  logger,
	})
	require.NoError(t, err)

	priceFeed := feed.NewManual(margin.Decimals)
	priceFeed.SetPrice(new(big.Int).Mul(big.NewInt(100), margin.Unit))
	require.NoError(t, engine.RegisterPriceFeed("admin", "BTC", priceFeed))

	return NewJSONRPCServer(engine, logger), priceFeed
}

// call posts one JSON-RPC request and decodes the response envelope.
func call(t *testing.T, server *JSONRPCServer, method string, params interface{}) map[string]interface{} {
	t.Helper()

	rawParams, err := json.Marshal(params)
	require.NoError(t, err)
	reqBody := fmt.Sprintf(`{"jsonrpc":"2.0","method":%q,"params":%s,"id":1}`, method, rawParams)

	req := httptest.NewRequest("POST", "/rpc", bytes.NewBufferString(reqBody))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	return resp
}

func result(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp["error"], "unexpected RPC error: %v", resp["error"])
	out, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	return out
}

func errorCode(t *testing.T, resp map[string]interface{}) int {
	t.Helper()
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected an RPC error, got %v", resp["result"])
	return int(errObj["code"].(float64))
}

func TestJSONRPCServer_Ping(t *testing.T) {
	server, _ := newTestServer(t)
	resp := call(t, server, "margin_ping", map[string]interface{}{})
	assert.Equal(t, "pong", resp["result"])
}

func TestJSONRPCServer_DepositWithdraw(t *testing.T) {
	server, _ := newTestServer(t)

	res := result(t, call(t, server, "margin_deposit",
		map[string]string{"user": "alice", "amount": "1000"}))
	assert.Equal(t, "1000", res["balance"])

	res = result(t, call(t, server, "margin_withdraw",
		map[string]string{"user": "alice", "amount": "250.5"}))
	assert.Equal(t, "749.5", res["balance"])

	res = result(t, call(t, server, "margin_getBalance",
		map[string]string{"user": "alice"}))
	assert.Equal(t, "749.5", res["balance"])
}

func TestJSONRPCServer_Positions(t *testing.T) {
	server, priceFeed := newTestServer(t)

	result(t, call(t, server, "margin_deposit",
		map[string]string{"user": "alice", "amount": "1000"}))

	res := result(t, call(t, server, "margin_openPosition", map[string]string{
		"user": "alice", "asset": "BTC", "side": "long",
		"size": "500", "leverage": "10",
	}))
	assert.Equal(t, float64(1), res["positionId"])
	assert.Equal(t, "500", res["size"])
	assert.Equal(t, "100", res["entryPrice"])
	assert.Equal(t, "50", res["margin"])

	res = result(t, call(t, server, "margin_getBalance",
		map[string]string{"user": "alice"}))
	assert.Equal(t, "950", res["balance"])

	res = result(t, call(t, server, "margin_getPosition",
		map[string]interface{}{"positionId": 1}))
	assert.Equal(t, "alice", res["owner"])
	assert.Equal(t, "long", res["side"])

	resp := call(t, server, "margin_getPositions", map[string]string{"user": "alice"})
	list, ok := resp["result"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)

	priceFeed.SetPrice(new(big.Int).Mul(big.NewInt(110), margin.Unit))
	res = result(t, call(t, server, "margin_closePosition",
		map[string]interface{}{"user": "alice", "positionId": 1}))
	assert.Equal(t, "100", res["payout"])
	assert.Equal(t, "1050", res["balance"])
}

func TestJSONRPCServer_Orders(t *testing.T) {
	server, priceFeed := newTestServer(t)

	result(t, call(t, server, "margin_deposit",
		map[string]string{"user": "alice", "amount": "1000"}))

	res := result(t, call(t, server, "margin_createOrder", map[string]string{
		"owner": "alice", "asset": "BTC", "side": "long",
		"price": "95", "size": "500", "leverage": "10",
	}))
	assert.Equal(t, float64(1), res["orderId"])

	res = result(t, call(t, server, "margin_getOrder",
		map[string]interface{}{"orderId": 1}))
	assert.Equal(t, true, res["active"])
	assert.Equal(t, "95", res["limitPrice"])

	// live price above the limit: execution fails with a state error
	resp := call(t, server, "margin_executeOrder",
		map[string]interface{}{"executor": "keeper", "orderId": 1})
	assert.Equal(t, StateError, errorCode(t, resp))

	priceFeed.SetPrice(new(big.Int).Mul(big.NewInt(94), margin.Unit))
	res = result(t, call(t, server, "margin_executeOrder",
		map[string]interface{}{"executor": "keeper", "orderId": 1}))
	assert.Equal(t, "executed", res["status"])
	pos, ok := res["position"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "94", pos["entryPrice"])

	// cancel path on a fresh order
	res = result(t, call(t, server, "margin_createOrder", map[string]string{
		"owner": "alice", "asset": "BTC", "side": "short",
		"price": "105", "size": "100", "leverage": "5",
	}))
	orderID := res["orderId"]
	res = result(t, call(t, server, "margin_cancelOrder",
		map[string]interface{}{"owner": "alice", "orderId": orderID}))
	assert.Equal(t, "cancelled", res["status"])
}

func TestJSONRPCServer_Liquidation(t *testing.T) {
	server, priceFeed := newTestServer(t)

	result(t, call(t, server, "margin_deposit",
		map[string]string{"user": "alice", "amount": "1000"}))
	result(t, call(t, server, "margin_openPosition", map[string]string{
		"user": "alice", "asset": "BTC", "side": "long",
		"size": "500", "leverage": "10",
	}))

	res := result(t, call(t, server, "margin_isLiquidatable",
		map[string]interface{}{"positionId": 1}))
	assert.Equal(t, false, res["liquidatable"])

	priceFeed.SetPrice(new(big.Int).Mul(big.NewInt(89), margin.Unit))
	res = result(t, call(t, server, "margin_isLiquidatable",
		map[string]interface{}{"positionId": 1}))
	assert.Equal(t, true, res["liquidatable"])

	res = result(t, call(t, server, "margin_liquidate",
		map[string]interface{}{"liquidator": "keeper", "positionId": 1}))
	assert.Equal(t, "0", res["fee"])
	assert.Equal(t, "0", res["ownerPayout"])
}

func TestJSONRPCServer_Admin(t *testing.T) {
	server, _ := newTestServer(t)

	res := result(t, call(t, server, "margin_setMaintenanceMarginRatio",
		map[string]string{"caller": "admin", "ratio": "0.01"}))
	assert.Equal(t, "0.01", res["ratio"])

	resp := call(t, server, "margin_setMaintenanceMarginRatio",
		map[string]string{"caller": "alice", "ratio": "0.01"})
	assert.Equal(t, UnauthorizedError, errorCode(t, resp))

	resp = call(t, server, "margin_setLiquidationFeeRatio",
		map[string]string{"caller": "admin", "ratio": "1.5"})
	assert.Equal(t, InvalidParams, errorCode(t, resp))
}

func TestJSONRPCServer_ErrorMapping(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("unknown method", func(t *testing.T) {
		resp := call(t, server, "margin_unknown", map[string]interface{}{})
		assert.Equal(t, MethodNotFound, errorCode(t, resp))
	})

	t.Run("invalid amount", func(t *testing.T) {
		resp := call(t, server, "margin_deposit",
			map[string]string{"user": "alice", "amount": "abc"})
		assert.Equal(t, InvalidParams, errorCode(t, resp))
	})

	t.Run("invalid side", func(t *testing.T) {
		resp := call(t, server, "margin_openPosition", map[string]string{
			"user": "alice", "asset": "BTC", "side": "sideways",
			"size": "1", "leverage": "10",
		})
		assert.Equal(t, InvalidParams, errorCode(t, resp))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		resp := call(t, server, "margin_withdraw",
			map[string]string{"user": "nobody", "amount": "1"})
		assert.Equal(t, InsufficientBalanceError, errorCode(t, resp))
	})

	t.Run("missing feed", func(t *testing.T) {
		result(t, call(t, server, "margin_deposit",
			map[string]string{"user": "bob", "amount": "100"}))
		resp := call(t, server, "margin_openPosition", map[string]string{
			"user": "bob", "asset": "DOGE", "side": "long",
			"size": "10", "leverage": "2",
		})
		assert.Equal(t, ConfigError, errorCode(t, resp))
	})

	t.Run("missing position", func(t *testing.T) {
		resp := call(t, server, "margin_getPosition",
			map[string]interface{}{"positionId": 99})
		assert.Equal(t, StateError, errorCode(t, resp))
	})

	t.Run("rejects non-POST", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/rpc", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/rpc", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		errObj := resp["error"].(map[string]interface{})
		assert.Equal(t, float64(ParseError), errObj["code"])
	})
}

func TestToRPCError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad", margin.ErrValidation), InvalidParams},
		{fmt.Errorf("%w: nope", margin.ErrUnauthorized), UnauthorizedError},
		{fmt.Errorf("%w: broke", margin.ErrInsufficientBalance), InsufficientBalanceError},
		{fmt.Errorf("%w: gone", margin.ErrState), StateError},
		{fmt.Errorf("%w: dead feed", margin.ErrOracle), OracleError},
		{fmt.Errorf("%w: no feed", margin.ErrConfig), ConfigError},
		{errors.New("anything else"), InternalError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, toRPCError(tc.err).Code, tc.err.Error())
	}
}
