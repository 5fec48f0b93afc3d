package apperror

var messages = map[Code]string{
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeConfigurationError: "Configuration error",

	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	CodeQuoteUnavailable:  "No route available from aggregator",
	CodeBuildFailed:       "Aggregator rejected the swap build",
	CodeUnsupportedMode:   "Swap mode not supported by aggregator",
	CodeMalformedResponse: "Malformed aggregator response",

	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumRPCError:         "Ethereum RPC call failed",
	CodeContractCallFailed:       "Contract call failed",
	CodeGasEstimationFailed:      "Gas estimation failed",
	CodeBroadcastFailed:          "Transaction broadcast failed",
	CodeNonceConflict:            "Nonce already used",
	CodeReceiptTimeout:           "Timed out waiting for transaction receipt",
	CodeAllowanceFailed:          "Token approval failed",
	CodeSwapReverted:             "Swap transaction reverted",

	CodeInsufficientPoolBalance: "Could not acquire the target amount",
	CodeInvalidRecipient:        "Invalid recipient address",
	CodeInvalidAmount:           "Invalid target amount",
	CodeTransferFailed:          "Token transfer failed",
	CodeTransferUnconfirmed:     "Token transfer broadcast but not confirmed",
	CodeDistributionInFlight:    "Distribution already in progress",
	CodeQueueFull:               "Distribution queue is full",

	CodeLedgerUnavailable: "Transaction ledger unavailable",
	CodeLedgerRegression:  "Ledger record is already completed",
	CodeRecordNotFound:    "Ledger record not found",

	CodeCircuitOpen: "Circuit breaker is open",
}
