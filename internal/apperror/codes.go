package apperror

// Code identifies a class of failure.
type Code string

// General error codes
const (
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Distribution error codes
const (
	// Aggregators
	CodeQuoteUnavailable  Code = "QUOTE_UNAVAILABLE"
	CodeBuildFailed       Code = "BUILD_FAILED"
	CodeUnsupportedMode   Code = "UNSUPPORTED_MODE"
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"

	// Chain
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeContractCallFailed       Code = "CONTRACT_CALL_FAILED"
	CodeGasEstimationFailed      Code = "GAS_ESTIMATION_FAILED"
	CodeBroadcastFailed          Code = "BROADCAST_FAILED"
	CodeNonceConflict            Code = "NONCE_CONFLICT"
	CodeReceiptTimeout           Code = "RECEIPT_TIMEOUT"
	CodeAllowanceFailed          Code = "ALLOWANCE_FAILED"
	CodeSwapReverted             Code = "SWAP_REVERTED"

	// Orchestration
	CodeInsufficientPoolBalance Code = "INSUFFICIENT_POOL_BALANCE"
	CodeInvalidRecipient        Code = "INVALID_RECIPIENT"
	CodeInvalidAmount           Code = "INVALID_AMOUNT"
	CodeTransferFailed          Code = "TRANSFER_FAILED"
	CodeTransferUnconfirmed     Code = "TRANSFER_UNCONFIRMED"
	CodeDistributionInFlight    Code = "DISTRIBUTION_IN_FLIGHT"
	CodeQueueFull               Code = "QUEUE_FULL"

	// Ledger
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"
	CodeLedgerRegression  Code = "LEDGER_REGRESSION"
	CodeRecordNotFound    Code = "RECORD_NOT_FOUND"

	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)

// terminal codes are validation failures no retry can fix.
var terminal = map[Code]bool{
	CodeInvalidRecipient: true,
	CodeInvalidAmount:    true,
}
