package contract

// ErrCode mirrors the mint's JSON error code namespace, so a peer can
// react programmatically to specific failures (e.g. a proof that's
// already pending vs. already spent) instead of string-matching Detail.
type ErrCode int

const (
	StandardErrCode     ErrCode = 10000
	InvalidProofErrCode ErrCode = 10003

	ProofAlreadyUsedErrCode        ErrCode = 11001
	InsufficientProofAmountErrCode ErrCode = 11002

	UnknownKeysetErrCode  ErrCode = 12001
	InactiveKeysetErrCode ErrCode = 12002

	MintQuoteRequestNotPaidErrCode ErrCode = 20001
	MeltQuotePendingErrCode        ErrCode = 20005
	MeltQuoteAlreadyPaidErrCode    ErrCode = 20006
)

// MintError is what a mint returns in a non-200 JSON response body.
type MintError struct {
	Detail string  `json:"detail"`
	Code   ErrCode `json:"code"`
}

func (e MintError) Error() string {
	return e.Detail
}
