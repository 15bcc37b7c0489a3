package stream

import (
	"encoding/json"
	"io"
	"net/http"

	"health-coach-go/internal/model"
)

// ContentTypeNDJSON 是流式响应的 Content-Type。
const ContentTypeNDJSON = "application/x-ndjson"

// WriteNDJSON 把事件逐行写入 w，每行之后立即 flush。写失败时停止写入，但会继续排空通道，
// 让生产者能够结束。
func WriteNDJSON(w io.Writer, events <-chan model.StreamEvent) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	flusher, _ := w.(http.Flusher)

	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			writeErr = err
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return writeErr
}
