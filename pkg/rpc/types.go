package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// MarshalJSON emits "result": null for successful calls with no value and
// omits result on errors.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Error   *RPCError   `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	return json.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      interface{} `json:"id"`
		Result  interface{} `json:"result"`
	}{r.JSONRPC, r.ID, r.Result})
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding `json:"encoding,omitempty"`
	MinContextSlot *uint64  `json:"minContextSlot,omitempty"`
}

// ProgramAccountsConfig configures getProgramAccounts.
type ProgramAccountsConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`

	// Kind keeps only records of one kind: GlobalState, Market or Reserve.
	Kind string `json:"kind,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress.
type SignaturesForAddressConfig struct {
	Limit int `json:"limit,omitempty"`
}

// SendTransactionConfig configures sendTransaction.
type SendTransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// AccountInfo is a stored account.
type AccountInfo struct {
	Data  interface{} `json:"data"` // [encoded, encoding]
	Owner string      `json:"owner"`
	Space uint64      `json:"space"`
}

// KeyedAccountInfo wraps AccountInfo with its pubkey.
type KeyedAccountInfo struct {
	Pubkey  string       `json:"pubkey"`
	Kind    string       `json:"kind"`
	Account *AccountInfo `json:"account"`
}

// UITokenAmount is a token amount in raw and whole-token form.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// GlobalStateInfo is a decoded GlobalState record.
type GlobalStateInfo struct {
	Admin              string        `json:"admin"`
	SyntheticMint      string        `json:"syntheticMint"`
	MintAuthBump       uint8         `json:"mintAuthBump"`
	VaultAuthBump      uint8         `json:"vaultAuthBump"`
	EmergencyFlag      bool          `json:"emergencyFlag"`
	TotalDepositAmount UITokenAmount `json:"totalDepositAmount"`
}

// MarketInfo is a decoded Market record.
type MarketInfo struct {
	GlobalState         string        `json:"globalState"`
	CollateralMint      string        `json:"collateralMint"`
	Vault               string        `json:"vault"`
	VaultBump           uint8         `json:"vaultBump"`
	WithdrawalLiquidity UITokenAmount `json:"withdrawalLiquidity"`
	LockFlag            bool          `json:"lockFlag"`
}

// ReserveInfo is a decoded Reserve record.
type ReserveInfo struct {
	Owner         string `json:"owner"`
	GlobalState   string `json:"globalState"`
	Bump          uint8  `json:"bump"`
	DepositAmount uint64 `json:"depositAmount"`
	FreezeFlag    bool   `json:"freezeFlag"`
}

// TransactionError describes why a transaction was rolled back.
type TransactionError struct {
	Code    uint32 `json:"code"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string            `json:"signature"`
	Slot      uint64            `json:"slot"`
	Err       *TransactionError `json:"err"`
	BlockTime int64             `json:"blockTime"`
}

// TransactionResponse is a journaled transaction.
type TransactionResponse struct {
	Signature    string            `json:"signature"`
	Slot         uint64            `json:"slot"`
	BlockTime    int64             `json:"blockTime"`
	Instructions []string          `json:"instructions"`
	Accounts     []string          `json:"accounts"`
	Err          *TransactionError `json:"err"`
	LogMessages  []string          `json:"logMessages"`
	ComputeUnits uint64            `json:"computeUnitsConsumed"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	Version string `json:"version"`
	Program string `json:"program"`
}
