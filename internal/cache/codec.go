package cache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// compressThreshold 以下的正文直接存储，压缩收益不足以抵消 CPU 开销。
const compressThreshold = 4 * 1024

const encodingZstd = "zstd"

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("init zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("init zstd decoder: %v", err))
	}
}

// record 是磁盘/bbolt 中的持久化格式。
type record struct {
	Status     int                 `msgpack:"status"`
	StatusText string              `msgpack:"status_text"`
	Header     map[string][]string `msgpack:"header"`
	Body       []byte              `msgpack:"body"`
	Encoding   string              `msgpack:"encoding,omitempty"`
	URL        string              `msgpack:"url"`
	StoredAt   int64               `msgpack:"stored_at"`
}

func encodeResponse(resp *Response) ([]byte, error) {
	rec := record{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		Body:       resp.Body,
		URL:        resp.URL,
		StoredAt:   resp.StoredAt.UnixNano(),
	}
	if len(resp.Body) >= compressThreshold {
		rec.Body = zstdEncoder.EncodeAll(resp.Body, nil)
		rec.Encoding = encodingZstd
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

func decodeResponse(data []byte) (*Response, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	body := rec.Body
	switch rec.Encoding {
	case "":
	case encodingZstd:
		decoded, err := zstdDecoder.DecodeAll(rec.Body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress cache entry: %w", err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("unknown cache entry encoding %q", rec.Encoding)
	}
	return &Response{
		Status:     rec.Status,
		StatusText: rec.StatusText,
		Header:     http.Header(rec.Header),
		Body:       body,
		URL:        rec.URL,
		StoredAt:   time.Unix(0, rec.StoredAt).UTC(),
	}, nil
}
