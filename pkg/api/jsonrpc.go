package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/margin/pkg/margin"
	"github.com/shopspring/decimal"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against the margin engine
type JSONRPCServer struct {
	engine *margin.Engine
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(engine *margin.Engine, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		engine: engine,
		logger: logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes plus engine-specific codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	UnauthorizedError        = -32001
	InsufficientBalanceError = -32002
	StateError               = -32003
	OracleError              = -32004
	ConfigError              = -32005
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Ledger methods
	case "margin_deposit":
		return s.deposit(params)
	case "margin_withdraw":
		return s.withdraw(params)
	case "margin_getBalance":
		return s.getBalance(params)

	// Position methods
	case "margin_openPosition":
		return s.openPosition(params)
	case "margin_closePosition":
		return s.closePosition(params)
	case "margin_getPosition":
		return s.getPosition(params)
	case "margin_getPositions":
		return s.getPositions(params)

	// Order methods
	case "margin_createOrder":
		return s.createOrder(params)
	case "margin_cancelOrder":
		return s.cancelOrder(params)
	case "margin_executeOrder":
		return s.executeOrder(params)
	case "margin_getOrder":
		return s.getOrder(params)

	// Liquidation methods
	case "margin_isLiquidatable":
		return s.isLiquidatable(params)
	case "margin_liquidate":
		return s.liquidate(params)

	// Admin methods
	case "margin_setMaintenanceMarginRatio":
		return s.setMaintenanceMarginRatio(params)
	case "margin_setLiquidationFeeRatio":
		return s.setLiquidationFeeRatio(params)

	// Info methods
	case "margin_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func (s *JSONRPCServer) deposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		User   string `json:"user"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Deposit(p.User, amount); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"user":    p.User,
		"balance": formatAmount(s.engine.Balance(p.User)),
	}, nil
}

func (s *JSONRPCServer) withdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		User   string `json:"user"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Withdraw(p.User, amount); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"user":    p.User,
		"balance": formatAmount(s.engine.Balance(p.User)),
	}, nil
}

func (s *JSONRPCServer) getBalance(params json.RawMessage) (interface{}, error) {
	var p struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	return map[string]interface{}{
		"user":    p.User,
		"balance": formatAmount(s.engine.Balance(p.User)),
	}, nil
}

func (s *JSONRPCServer) openPosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		User     string `json:"user"`
		Asset    string `json:"asset"`
		Side     string `json:"side"`
		Size     string `json:"size"`
		Leverage string `json:"leverage"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	side, err := parseSide(p.Side)
	if err != nil {
		return nil, err
	}
	size, err := parseAmount(p.Size)
	if err != nil {
		return nil, err
	}
	leverage, err := parseAmount(p.Leverage)
	if err != nil {
		return nil, err
	}

	pos, err := s.engine.OpenMarketPosition(p.User, p.Asset, side, size, leverage)
	if err != nil {
		return nil, err
	}
	return positionResult(pos), nil
}

func (s *JSONRPCServer) closePosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		User       string `json:"user"`
		PositionID uint64 `json:"positionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	payout, err := s.engine.ClosePosition(p.User, p.PositionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"positionId": p.PositionID,
		"payout":     formatAmount(payout),
		"balance":    formatAmount(s.engine.Balance(p.User)),
	}, nil
}

func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		PositionID uint64 `json:"positionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, ok := s.engine.Position(p.PositionID)
	if !ok {
		return nil, &RPCError{Code: StateError, Message: "Position not found"}
	}
	return positionResult(pos), nil
}

func (s *JSONRPCServer) getPositions(params json.RawMessage) (interface{}, error) {
	var p struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	positions := s.engine.UserPositions(p.User)
	out := make([]interface{}, len(positions))
	for i, pos := range positions {
		out[i] = positionResult(pos)
	}
	return out, nil
}

func (s *JSONRPCServer) createOrder(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner    string `json:"owner"`
		Asset    string `json:"asset"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		Size     string `json:"size"`
		Leverage string `json:"leverage"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	side, err := parseSide(p.Side)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount(p.Price)
	if err != nil {
		return nil, err
	}
	size, err := parseAmount(p.Size)
	if err != nil {
		return nil, err
	}
	leverage, err := parseAmount(p.Leverage)
	if err != nil {
		return nil, err
	}

	orderID, err := s.engine.CreateLimitOrder(p.Owner, p.Asset, side, price, size, leverage)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"orderId": orderID,
		"status":  "accepted",
	}, nil
}

func (s *JSONRPCServer) cancelOrder(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner   string `json:"owner"`
		OrderID uint64 `json:"orderId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.engine.CancelOrder(p.Owner, p.OrderID); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"orderId": p.OrderID,
		"status":  "cancelled",
	}, nil
}

func (s *JSONRPCServer) executeOrder(params json.RawMessage) (interface{}, error) {
	var p struct {
		Executor string `json:"executor"`
		OrderID  uint64 `json:"orderId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, err := s.engine.ExecuteOrder(p.Executor, p.OrderID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"orderId":  p.OrderID,
		"status":   "executed",
		"position": positionResult(pos),
	}, nil
}

func (s *JSONRPCServer) getOrder(params json.RawMessage) (interface{}, error) {
	var p struct {
		OrderID uint64 `json:"orderId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	order, ok := s.engine.Order(p.OrderID)
	if !ok {
		return nil, &RPCError{Code: StateError, Message: "Order not found"}
	}

	return map[string]interface{}{
		"orderId":    order.ID,
		"owner":      order.Owner,
		"asset":      order.Asset,
		"side":       order.Side.String(),
		"limitPrice": formatAmount(order.LimitPrice),
		"size":       formatAmount(order.Size),
		"leverage":   formatAmount(order.Leverage),
		"margin":     formatAmount(order.Margin),
		"active":     order.Active,
	}, nil
}

func (s *JSONRPCServer) isLiquidatable(params json.RawMessage) (interface{}, error) {
	var p struct {
		PositionID uint64 `json:"positionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	liquidatable, err := s.engine.IsLiquidatable(p.PositionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"positionId":   p.PositionID,
		"liquidatable": liquidatable,
	}, nil
}

func (s *JSONRPCServer) liquidate(params json.RawMessage) (interface{}, error) {
	var p struct {
		Liquidator string `json:"liquidator"`
		PositionID uint64 `json:"positionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	fee, ownerPayout, err := s.engine.Liquidate(p.Liquidator, p.PositionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"positionId":  p.PositionID,
		"fee":         formatAmount(fee),
		"ownerPayout": formatAmount(ownerPayout),
	}, nil
}

func (s *JSONRPCServer) setMaintenanceMarginRatio(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Ratio  string `json:"ratio"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	ratio, err := parseAmount(p.Ratio)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetMaintenanceMarginRatio(p.Caller, ratio); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ratio": p.Ratio}, nil
}

func (s *JSONRPCServer) setLiquidationFeeRatio(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Ratio  string `json:"ratio"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	ratio, err := parseAmount(p.Ratio)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetLiquidationFeeRatio(p.Caller, ratio); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ratio": p.Ratio}, nil
}

func positionResult(pos *margin.Position) map[string]interface{} {
	return map[string]interface{}{
		"positionId": pos.ID,
		"owner":      pos.Owner,
		"asset":      pos.Asset,
		"side":       pos.Side.String(),
		"size":       formatAmount(pos.Size),
		"entryPrice": formatAmount(pos.EntryPrice),
		"margin":     formatAmount(pos.Margin),
		"leverage":   formatAmount(pos.Leverage),
		"openTime":   pos.OpenTime.Unix(),
	}
}

// parseAmount converts a decimal string into the 18-decimal internal
// unit, truncating any extra precision.
func parseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("invalid amount %q", s)}
	}
	return d.Shift(margin.Decimals).Truncate(0).BigInt(), nil
}

// formatAmount renders an internal-unit value as a decimal string.
func formatAmount(v *big.Int) string {
	return decimal.NewFromBigInt(v, -margin.Decimals).String()
}

func parseSide(s string) (margin.Side, error) {
	switch s {
	case "long":
		return margin.Long, nil
	case "short":
		return margin.Short, nil
	default:
		return 0, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("invalid side %q", s)}
	}
}

func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	code := InternalError
	switch {
	case errors.Is(err, margin.ErrValidation):
		code = InvalidParams
	case errors.Is(err, margin.ErrUnauthorized):
		code = UnauthorizedError
	case errors.Is(err, margin.ErrInsufficientBalance):
		code = InsufficientBalanceError
	case errors.Is(err, margin.ErrState):
		code = StateError
	case errors.Is(err, margin.ErrOracle):
		code = OracleError
	case errors.Is(err, margin.ErrConfig):
		code = ConfigError
	}
	return &RPCError{Code: code, Message: err.Error()}
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server
func StartJSONRPCServer(ctx context.Context, port int, engine *margin.Engine, logger log.Logger) error {
	server := NewJSONRPCServer(engine, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}
