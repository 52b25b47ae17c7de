package customdata

import "encoding/json"

func marshal(r record) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshal(data []byte) (record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return record{}, err
	}
	return r, nil
}
