package handler

// workerParam is bound from the route path.
type workerParam struct {
	ID string `param:"id" validate:"required,max=128,printascii"`
}

// Delivery values reported by SendMessage.
const (
	deliveryDirect  = "delivered"
	deliveryRelayed = "relayed"
)

type sendResponse struct {
	WorkerID string `json:"worker_id"`
	Delivery string `json:"delivery"`
}
