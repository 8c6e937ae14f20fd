package payment

import (
	"encoding/json"

	"merchantbackend/store"
)

func decodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func encodeReceipt(r PaidReceipt) ([]byte, error) {
	return json.Marshal(r)
}

func decodeReceipt(o *store.Order) PaidReceipt {
	var r PaidReceipt
	if len(o.PaidResponse) > 0 {
		_ = json.Unmarshal(o.PaidResponse, &r)
	}
	return r
}
