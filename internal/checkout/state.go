package checkout

// State is where a checkout is in its lifecycle:
//
//	CartReview → OrderPendingCreation → AwaitingPayment → PaymentProcessing → Completed
//
// Failed can be entered from any state. BeginCheckout drives a checkout up to
// AwaitingPayment; CollectPayment takes it from there.
type State string

const (
	StateCartReview           State = "CartReview"
	StateOrderPendingCreation State = "OrderPendingCreation"
	StateAwaitingPayment      State = "AwaitingPayment"
	StatePaymentProcessing    State = "PaymentProcessing"
	StateCompleted            State = "Completed"
	StateFailed               State = "Failed"
)
