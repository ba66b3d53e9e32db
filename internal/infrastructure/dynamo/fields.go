package dynamo

// DynamoDB attribute names used in key and condition expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldUserID          = "user_id"
	fieldFingerprintHash = "fingerprint_hash"
)

// Cancellation reason codes reported per item of a cancelled transaction.
const (
	conditionalCheckFailed = "ConditionalCheckFailed"
	transactionConflict    = "TransactionConflict"
)

// maxTransactItems is the DynamoDB limit on actions per TransactWriteItems call.
const maxTransactItems = 100
