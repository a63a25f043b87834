// Package content normalizes chat message content into a canonical list of
// typed items, extracts embedded base64 image/video payloads into raw byte
// buffers, and conditions those buffers (crop/resize) for the native
// library.
package content

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/KamdynS/marathon/chatapi"
)

// videoContinuousFrames is the block size used to decide which video frames
// keep high precision: the first and last of every 6-frame block do.
const videoContinuousFrames = 6

// Processor conditions raw image/video-frame bytes before they're handed to
// the native library. Image resizing/codec glue is named in the spec as an
// out-of-scope external collaborator; this interface is the seam a real
// deployment plugs a codec library into.
type Processor interface {
	// CenterCropResize crops to a 1:1 aspect ratio then resizes to size x size.
	CenterCropResize(data []byte, size int) ([]byte, error)
	// LowPrecisionResize resizes directly to size x size without cropping.
	LowPrecisionResize(data []byte, size int) ([]byte, error)
}

const (
	highPrecisionSize = 448
	lowPrecisionSize  = 224
)

// Preprocessor normalizes messages and extracts/conditions modal buffers.
type Preprocessor struct {
	images Processor
}

// New creates a Preprocessor backed by the given image processor.
func New(images Processor) *Preprocessor {
	return &Preprocessor{images: images}
}

// Result is the output of preprocessing one request's messages. Buffers are
// ordered the way the native library should learn about them: the caller
// pins each one and builds a {address, length} descriptor from it.
type Result struct {
	Messages []chatapi.Message
	Buffers  [][]byte
}

// Process normalizes every message's content, extracts embedded base64
// image/video payloads into raw buffers, and conditions each buffer.
func (p *Preprocessor) Process(messages []chatapi.Message) (Result, error) {
	out := make([]chatapi.Message, len(messages))
	var buffers [][]byte

	for i, msg := range messages {
		normalized, err := normalizeContent(msg)
		if err != nil {
			return Result{}, fmt.Errorf("content: normalizing message %d: %w", i, err)
		}
		msg.NormalizedContent = normalized

		// frameIdx resets per message: the precision pattern below applies to
		// each message's own combined image+video buffer sequence, not to the
		// request as a whole.
		frameIdx := 0

		for ci := range msg.NormalizedContent {
			item := &msg.NormalizedContent[ci]
			switch item.Type {
			case chatapi.ContentImage:
				data, header, ok := extractBase64(item.Image)
				if !ok {
					continue
				}
				conditioned, err := p.conditionFrame(data, frameIdx)
				if err != nil {
					return Result{}, fmt.Errorf("content: conditioning image: %w", err)
				}
				item.Image = header
				buffers = append(buffers, conditioned)
				frameIdx++
			case chatapi.ContentVideo:
				for vi, frame := range item.Video {
					data, header, ok := extractBase64(frame)
					if !ok {
						continue
					}
					conditioned, err := p.conditionFrame(data, frameIdx)
					if err != nil {
						return Result{}, fmt.Errorf("content: conditioning video frame %d: %w", vi, err)
					}
					item.Video[vi] = header
					buffers = append(buffers, conditioned)
					frameIdx++
				}
			}
		}
		out[i] = msg
	}

	return Result{Messages: out, Buffers: buffers}, nil
}

// conditionFrame applies the shared image/video precision rule: within a
// message's combined buffer sequence, the first and last frame of every
// videoContinuousFrames-sized block keep full crop-resize precision, and the
// rest are downsampled directly.
func (p *Preprocessor) conditionFrame(data []byte, frameIdx int) ([]byte, error) {
	pos := frameIdx % videoContinuousFrames
	if pos == 0 || pos == videoContinuousFrames-1 {
		return p.images.CenterCropResize(data, highPrecisionSize)
	}
	return p.images.LowPrecisionResize(data, lowPrecisionSize)
}

// normalizeContent turns a message's RawContent (string or list) into a
// canonical []Content.
func normalizeContent(msg chatapi.Message) ([]chatapi.Content, error) {
	switch v := msg.RawContent.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []chatapi.Content{{Type: chatapi.ContentText, Text: v}}, nil
	case []chatapi.Content:
		return normalizeItems(v)
	case []any:
		items := make([]chatapi.Content, 0, len(v))
		for _, raw := range v {
			item, ok := raw.(chatapi.Content)
			if !ok {
				// A JSON-decoded request carries each item as a map.
				fields, isMap := raw.(map[string]any)
				if !isMap {
					continue
				}
				b, err := json.Marshal(fields)
				if err != nil || json.Unmarshal(b, &item) != nil {
					continue
				}
			}
			items = append(items, item)
		}
		return normalizeItems(items)
	default:
		return nil, fmt.Errorf("unsupported content shape %T", v)
	}
}

func normalizeItems(items []chatapi.Content) ([]chatapi.Content, error) {
	out := make([]chatapi.Content, 0, len(items))
	for _, item := range items {
		if item.Type == "" {
			continue
		}
		if item.Type == chatapi.ContentImageURL && item.ImageURL != nil {
			rewritten, keep, err := resolveImageURL(item.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
			item.Type = chatapi.ContentImage
			item.Image = rewritten
			item.ImageURL = nil
		}
		out = append(out, item)
	}
	return out, nil
}

// resolveImageURL turns an image_url value into an inlined data URI, or
// reports that the item should be dropped (http(s) URLs are logged and
// dropped; this core never performs its own fetch).
func resolveImageURL(url string) (string, bool, error) {
	if strings.HasPrefix(url, "data:") {
		return url, true, nil
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		log.Printf("content: dropping http(s) image_url (not fetched by this core): %s", url)
		return "", false, nil
	}
	// Treat as a filesystem path.
	raw, err := os.ReadFile(url)
	if err != nil {
		return "", false, fmt.Errorf("reading image path %q: %w", url, err)
	}
	mime := mimeFromExt(url)
	encoded := base64.StdEncoding.EncodeToString(raw)
	return fmt.Sprintf("data:%s;base64,%s", mime, encoded), true, nil
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// extractBase64 splits a "...;base64,<data>" payload into the decoded bytes
// and the retained header prefix (including the trailing "base64,"). It
// reports ok=false if the payload does not carry an inline base64 tail.
func extractBase64(payload string) (data []byte, header string, ok bool) {
	idx := strings.Index(payload, ";base64,")
	if idx < 0 {
		return nil, payload, false
	}
	headerPrefix := payload[:idx+len(";base64,")]
	tail := payload[idx+len(";base64,"):]
	decoded, err := base64.StdEncoding.DecodeString(tail)
	if err != nil {
		return nil, payload, false
	}
	return decoded, headerPrefix, true
}
