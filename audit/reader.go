package audit

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ReadLog decodes every record in the log file at path, in append order.
// The file has no header or framing of its own; records are decoded one at
// a time until end of file. On a decode error the records read so far are
// returned along with the error.
func ReadLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open audit log")
	}
	defer f.Close()
	return DecodeAll(f)
}

// DecodeAll reads records from r until EOF.
func DecodeAll(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(r)
	var result []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return result, errors.Wrap(err, "decode audit record")
		}
		result = append(result, rec)
	}
}
