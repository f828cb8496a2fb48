package store

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// record is the stored form of a document.
type record struct {
	Compression    Compression `msgpack:"c"`
	SharedKeyCount int         `msgpack:"k"`
	Size           int         `msgpack:"n"`
	Data           []byte      `msgpack:"d"`
}

func encodeRecord(rec *record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	err := enc.Encode(rec)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord decodes raw; the result does not reference raw.
func decodeRecord(raw []byte) (*record, error) {
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	rec := new(record)
	err := dec.Decode(rec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
