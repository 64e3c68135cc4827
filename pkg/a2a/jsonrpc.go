package a2a

import (
	"encoding/json"
	"strconv"
)

const (
	MethodSendMessage   = "message/send"
	MethodStreamMessage = "message/stream"
	MethodGetTask       = "tasks/get"
	MethodCancelTask    = "tasks/cancel"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return "jsonrpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

const (
	ErrCodeParse           = -32700
	ErrCodeInvalidReq      = -32600
	ErrCodeNotFound        = -32601
	ErrCodeInvalidParams   = -32602
	ErrCodeInternal        = -32603
	ErrCodeTaskNotFound    = -32001
	ErrCodeTaskNotCancel   = -32002
	ErrCodeUnsupportedOper = -32004
)

type MessageParams struct {
	Message Message `json:"message"`
}

type TaskIDParams struct {
	ID string `json:"id"`
}

func NewJSONRPCRequest(id any, method string, params any) (JSONRPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return JSONRPCRequest{}, err
	}
	return JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

func NewJSONRPCResponse(id any, result any) JSONRPCResponse {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewJSONRPCError(id, ErrCodeInternal, "encoding result: "+err.Error())
	}
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  raw,
	}
}

func NewJSONRPCError(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}
