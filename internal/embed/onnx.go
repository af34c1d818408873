// Package embed computes voice embeddings from pre-extracted PCM windows.
// Audio decoding happens upstream; the diarization pipeline leaves one raw
// mono float32 LE window per segment at audio/<video_id>/<segment_id>.f32.
package embed

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/speakerid/internal/config"
	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/models"
)

// BlobStore is the subset of the object store the extractor needs.
type BlobStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// PCMExtractor runs a speaker-embedding ONNX model (ECAPA-TDNN export,
// waveform in, fixed-dimension embedding out) over segment PCM windows.
// It implements identify.Extractor.
type PCMExtractor struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]

	blobs      BlobStore
	sampleRate int
	windowLen  int // samples per model input
	minSamples int
	embDim     int

	// ONNX sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

func NewPCMExtractor(cfg config.EmbeddingConfig, dim int, blobs BlobStore) (*PCMExtractor, error) {
	windowLen := int(float64(cfg.SampleRate) * cfg.WindowSeconds)
	minSamples := int(float64(cfg.SampleRate) * cfg.MinSeconds)

	inputShape := ort.NewShape(1, int64(windowLen))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"waveform"},
		[]string{"embedding"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedding session: %w", err)
	}

	return &PCMExtractor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		blobs:        blobs,
		sampleRate:   cfg.SampleRate,
		windowLen:    windowLen,
		minSamples:   minSamples,
		embDim:       dim,
	}, nil
}

// Extract fetches the segment's PCM window and runs the model. Failures are
// *identify.ExtractionError so the planner downgrades the segment to skipped.
func (e *PCMExtractor) Extract(ctx context.Context, video models.Video, seg models.Segment) ([]float32, error) {
	key := fmt.Sprintf("audio/%s/%s.f32", video.ID, seg.ID)
	data, err := e.blobs.GetObject(ctx, key)
	if err != nil {
		return nil, &identify.ExtractionError{Reason: "fetch pcm window", Err: err}
	}

	samples, err := decodePCM(data)
	if err != nil {
		return nil, &identify.ExtractionError{Reason: "decode pcm window", Err: err}
	}
	if len(samples) < e.minSamples {
		return nil, &identify.ExtractionError{
			Reason: fmt.Sprintf("segment too short: %d samples, need %d", len(samples), e.minSamples),
		}
	}

	window := fitWindow(samples, e.windowLen)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), window)
	if err := e.session.Run(); err != nil {
		return nil, &identify.ExtractionError{Reason: "run model", Err: err}
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)

	return embedding, nil
}

// EmbeddingDim returns the embedding vector dimension.
func (e *PCMExtractor) EmbeddingDim() int {
	return e.embDim
}

func (e *PCMExtractor) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// decodePCM parses raw little-endian float32 samples.
func decodePCM(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("pcm blob length %d is not a multiple of 4", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// fitWindow center-crops longer segments and zero-pads shorter ones so every
// input has the model's fixed length.
func fitWindow(samples []float32, windowLen int) []float32 {
	if len(samples) == windowLen {
		return samples
	}
	window := make([]float32, windowLen)
	if len(samples) > windowLen {
		offset := (len(samples) - windowLen) / 2
		copy(window, samples[offset:offset+windowLen])
	} else {
		copy(window, samples)
	}
	return window
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
