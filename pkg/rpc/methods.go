package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/journal"
	"github.com/fortiblox/X1-Onering/pkg/onering"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// Limits for list methods.
const (
	MaxMultipleAccounts      = 100
	MaxSignaturesForAddress  = 1000
	DefaultSignaturesLimit   = 1000
	MaxProgramAccountsResult = 10000
)

// parseArgs splits a positional params array.
func parseArgs(params json.RawMessage, min int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("Invalid params")
		}
	}
	if len(args) < min {
		return nil, InvalidParamsError("Invalid params: expected at least " + strconv.Itoa(min) + " argument(s)")
	}
	return args, nil
}

// parsePubkey decodes a base58 pubkey argument.
func parsePubkey(raw json.RawMessage) (types.Pubkey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Pubkey{}, InvalidParamsError("Invalid params: pubkey must be a string")
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsError("Invalid param: " + err.Error())
	}
	return pubkey, nil
}

// parseConfig decodes the optional trailing config object at index i.
func parseConfig(args []json.RawMessage, i int, cfg interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], cfg); err != nil {
		return InvalidParamsError("Invalid params: " + err.Error())
	}
	return nil
}

func (s *Server) currentContext() Context {
	return Context{Slot: s.rt.Slot()}
}

func (s *Server) withContext(value interface{}) *ResponseWithContext {
	return &ResponseWithContext{Context: s.currentContext(), Value: value}
}

// getAccount reads a committed account, returning nil if it doesn't exist.
func (s *Server) getAccount(pubkey types.Pubkey) (*accounts.Account, *RPCError) {
	acc, err := s.rt.DB().GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load account %s: %v", pubkey, err)
	}
	return acc, nil
}

func accountInfo(acc *accounts.Account, encoding Encoding) (*AccountInfo, *RPCError) {
	data, err := EncodeAccountData(acc.Data, encoding)
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	return &AccountInfo{
		Data:  data,
		Owner: acc.Owner.String(),
		Space: uint64(len(acc.Data)),
	}, nil
}

func (s *Server) checkAccountConfig(cfg *AccountInfoConfig) *RPCError {
	if !validEncoding(cfg.Encoding) {
		return InvalidParamsError("Invalid encoding: " + string(cfg.Encoding))
	}
	if cfg.MinContextSlot != nil && *cfg.MinContextSlot > s.rt.Slot() {
		return MinContextSlotError(*cfg.MinContextSlot, s.rt.Slot())
	}
	return nil
}

// getAccountInfo returns one account.
// Params: [pubkey, {encoding, minContextSlot}?]
func (s *Server) getAccountInfo(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.checkAccountConfig(&cfg); rpcErr != nil {
		return nil, rpcErr
	}

	acc, rpcErr := s.getAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acc == nil {
		return s.withContext(nil), nil
	}
	info, rpcErr := accountInfo(acc, cfg.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withContext(info), nil
}

// getMultipleAccounts returns several accounts, null for missing ones.
// Params: [[pubkey...], {encoding, minContextSlot}?]
func (s *Server) getMultipleAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("Invalid params: expected an array of pubkeys")
	}
	if len(keys) > MaxMultipleAccounts {
		return nil, InvalidParamsError("Too many accounts requested, maximum is " + strconv.Itoa(MaxMultipleAccounts))
	}
	var cfg AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.checkAccountConfig(&cfg); rpcErr != nil {
		return nil, rpcErr
	}

	values := make([]*AccountInfo, len(keys))
	for i, k := range keys {
		pubkey, err := types.PubkeyFromBase58(k)
		if err != nil {
			return nil, InvalidParamsError("Invalid param: " + err.Error())
		}
		acc, rpcErr := s.getAccount(pubkey)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if acc == nil {
			continue
		}
		if values[i], rpcErr = accountInfo(acc, cfg.Encoding); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return s.withContext(values), nil
}

// getProgramAccounts returns every account owned by a program.
// Params: [programId, {encoding, kind}?]
func (s *Server) getProgramAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg ProgramAccountsConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if !validEncoding(cfg.Encoding) {
		return nil, InvalidParamsError("Invalid encoding: " + string(cfg.Encoding))
	}

	result := []KeyedAccountInfo{}
	errTooMany := errors.New("too many accounts")
	err := s.rt.DB().IterateAccounts(func(pubkey types.Pubkey, acc *accounts.Account) error {
		if acc.Owner != owner {
			return nil
		}
		kind := onering.RecordKind(s.programID, acc)
		if cfg.Kind != "" && kind != cfg.Kind {
			return nil
		}
		if len(result) >= MaxProgramAccountsResult {
			return errTooMany
		}
		info, rpcErr := accountInfo(acc, cfg.Encoding)
		if rpcErr != nil {
			return rpcErr
		}
		result = append(result, KeyedAccountInfo{Pubkey: pubkey.String(), Kind: kind, Account: info})
		return nil
	})
	if errors.Is(err, errTooMany) {
		return nil, InvalidParamsError("Result exceeds " + strconv.Itoa(MaxProgramAccountsResult) + " accounts, narrow the query with kind")
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to scan accounts: %v", err)
	}
	return result, nil
}

// loadMint reads a committed mint.
func (s *Server) loadMint(pubkey types.Pubkey) (*token.Mint, *RPCError) {
	acc, rpcErr := s.getAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acc == nil {
		return nil, InvalidParamsError("Invalid param: mint " + pubkey.String() + " not found")
	}
	mint, err := token.DecodeMint(acc)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: " + pubkey.String() + " is not a mint: " + err.Error())
	}
	return mint, nil
}

func tokenAmount(amount uint64, decimals uint8) UITokenAmount {
	return UITokenAmount{
		Amount:         strconv.FormatUint(amount, 10),
		Decimals:       decimals,
		UIAmountString: token.UIAmount(amount, decimals),
	}
}

// getTokenAccountBalance returns the balance of a token account.
// Params: [pubkey]
func (s *Server) getTokenAccountBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	acc, rpcErr := s.getAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acc == nil {
		return nil, InvalidParamsError("Invalid param: could not find account")
	}
	ta, err := token.DecodeAccount(acc)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: not a token account: " + err.Error())
	}
	mint, rpcErr := s.loadMint(ta.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withContext(tokenAmount(ta.Amount, mint.Decimals)), nil
}

// getTokenSupply returns the outstanding supply of a mint.
// Params: [mint]
func (s *Server) getTokenSupply(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := s.loadMint(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withContext(tokenAmount(mint.Supply, mint.Decimals)), nil
}

// fetchError maps a record read failure. A missing or mistyped record is a
// parameter problem, anything else is internal.
func fetchError(err error) *RPCError {
	if errors.Is(err, onering.ErrAccountNotInitialized) || errors.Is(err, onering.ErrInvalidAccountOwner) {
		return InvalidParamsError("Invalid param: " + err.Error())
	}
	return InternalServerErrorf("%v", err)
}

// getGlobalState decodes a GlobalState record.
// Params: [address]
func (s *Server) getGlobalState(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	state, err := onering.FetchGlobalState(s.rt.DB(), s.programID, pubkey)
	if err != nil {
		return nil, fetchError(err)
	}
	return s.withContext(&GlobalStateInfo{
		Admin:              state.Admin.String(),
		SyntheticMint:      state.SyntheticMint.String(),
		MintAuthBump:       state.MintAuthBump,
		VaultAuthBump:      state.VaultAuthBump,
		EmergencyFlag:      state.EmergencyFlag,
		TotalDepositAmount: tokenAmount(state.TotalDepositAmount, state.SyntheticDecimals),
	}), nil
}

// getMarket decodes a Market record.
// Params: [address]
func (s *Server) getMarket(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	market, err := onering.FetchMarket(s.rt.DB(), s.programID, pubkey)
	if err != nil {
		return nil, fetchError(err)
	}
	return s.withContext(&MarketInfo{
		GlobalState:         market.GlobalState.String(),
		CollateralMint:      market.CollateralMint.String(),
		Vault:               market.Vault.String(),
		VaultBump:           market.VaultBump,
		WithdrawalLiquidity: tokenAmount(market.WithdrawalLiquidity, market.CollateralDecimals),
		LockFlag:            market.LockFlag,
	}), nil
}

// getReserve decodes a Reserve record.
// Params: [address]
func (s *Server) getReserve(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	reserve, err := onering.FetchReserve(s.rt.DB(), s.programID, pubkey)
	if err != nil {
		return nil, fetchError(err)
	}
	return s.withContext(&ReserveInfo{
		Owner:         reserve.Owner.String(),
		GlobalState:   reserve.GlobalState.String(),
		Bump:          reserve.Bump,
		DepositAmount: reserve.DepositAmount,
		FreezeFlag:    reserve.FreezeFlag,
	}), nil
}

// getStateHash returns the hash over all committed accounts.
func (s *Server) getStateHash(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	hash, err := accounts.ComputeStateHash(s.rt.DB())
	if err != nil {
		return nil, InternalServerErrorf("failed to hash state: %v", err)
	}
	return s.withContext(hash.String()), nil
}

// transactionError describes a rolled-back transaction.
func transactionError(err error) *TransactionError {
	txErr := &TransactionError{
		Code:    runtime.ErrorCode(err),
		Message: err.Error(),
	}
	var progErr *onering.Error
	if errors.As(err, &progErr) {
		txErr.Name = progErr.Name
	}
	return txErr
}

// sendTransaction executes a signed transaction and returns its signature.
// Params: [encodedTransaction, {encoding}?]
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("Invalid params: transaction must be a string")
	}
	var cfg SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Encoding == EncodingBase64Zstd || !validEncoding(cfg.Encoding) {
		return nil, InvalidParamsError("Invalid encoding: " + string(cfg.Encoding))
	}

	raw, err := DecodeData(encoded, cfg.Encoding)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: " + err.Error())
	}
	tx, err := runtime.DeserializeTransaction(raw)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: " + err.Error())
	}

	res, err := s.rt.Execute(ctx, tx)
	if res == nil {
		switch {
		case errors.Is(err, runtime.ErrSignatureFailure), errors.Is(err, runtime.ErrSignatureCount):
			return nil, NewRPCError(TransactionSignatureVerificationFailure, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, InternalServerErrorf("transaction not executed: %v", err)
		default:
			return nil, InvalidParamsError("Invalid transaction: " + err.Error())
		}
	}
	if err != nil {
		return nil, TransactionFailedError(res.Signature.String(), transactionError(err), res.Logs)
	}
	return res.Signature.String(), nil
}

func (s *Server) requireHistory() *RPCError {
	if s.history == nil {
		return ErrHistoryNotEnabled
	}
	return nil
}

func recordError(rec *journal.Record) *TransactionError {
	if rec.Succeeded {
		return nil
	}
	return &TransactionError{Code: rec.ErrorCode, Message: rec.Error}
}

// getTransaction returns a journaled transaction, or null if unknown.
// Params: [signature]
func (s *Server) getTransaction(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := s.requireHistory(); rpcErr != nil {
		return nil, rpcErr
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var sigStr string
	if err := json.Unmarshal(args[0], &sigStr); err != nil {
		return nil, InvalidParamsError("Invalid params: signature must be a string")
	}
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: " + err.Error())
	}

	rec, err := s.history.Get(sig)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to read journal: %v", err)
	}

	accts := make([]string, len(rec.Accounts))
	for i, k := range rec.Accounts {
		accts[i] = k.String()
	}
	return &TransactionResponse{
		Signature:    rec.Signature.String(),
		Slot:         rec.Slot,
		BlockTime:    rec.BlockTime.Unix(),
		Instructions: rec.Instructions,
		Accounts:     accts,
		Err:          recordError(rec),
		LogMessages:  rec.Logs,
		ComputeUnits: rec.ComputeUnits,
	}, nil
}

// getSignaturesForAddress lists transactions touching an address, newest first.
// Params: [address, {limit}?]
func (s *Server) getSignaturesForAddress(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := s.requireHistory(); rpcErr != nil {
		return nil, rpcErr
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	cfg := SignaturesForAddressConfig{Limit: DefaultSignaturesLimit}
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Limit <= 0 || cfg.Limit > MaxSignaturesForAddress {
		return nil, InvalidParamsError("Invalid limit; max " + strconv.Itoa(MaxSignaturesForAddress))
	}

	recs, err := s.history.ForAddress(addr, cfg.Limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to read journal: %v", err)
	}
	result := make([]SignatureInfo, len(recs))
	for i, rec := range recs {
		result[i] = SignatureInfo{
			Signature: rec.Signature.String(),
			Slot:      rec.Slot,
			Err:       recordError(rec),
			BlockTime: rec.BlockTime.Unix(),
		}
	}
	return result, nil
}

// getSlot returns the slot of the last executed transaction.
func (s *Server) getSlot(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return s.rt.Slot(), nil
}

// getHealth returns "ok" while the server accepts work.
func (s *Server) getHealth(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the server version and ledger program id.
func (s *Server) getVersion(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return &VersionInfo{
		Version: s.config.Version,
		Program: s.programID.String(),
	}, nil
}
