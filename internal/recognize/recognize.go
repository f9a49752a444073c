// Package recognize wraps dlib (via go-face) as the face recognition engine.
package recognize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/rs/zerolog/log"
)

// Engine detects faces with dlib's HOG detector and computes 128-d descriptors.
// dlib is not safe for concurrent use, so calls are serialised.
type Engine struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// New loads the dlib models from dir (shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat, mmod_human_face_detector.dat).
func New(dir string) (*Engine, error) {
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("load face models from %s: %w", dir, err)
	}
	log.Info().Str("component", "recognize").Str("models", dir).Msg("face models loaded")
	return &Engine{rec: rec}, nil
}

// Recognize returns every face in img with its descriptor.
func (e *Engine) Recognize(img image.Image) ([]types.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, &types.EncodingError{Err: err}
	}

	e.mu.Lock()
	faces, err := e.rec.Recognize(buf.Bytes())
	e.mu.Unlock()
	if err != nil {
		return nil, &types.EncodingError{Err: err}
	}
	return toDetections(faces), nil
}

// RecognizeFile runs recognition on a JPEG file.
func (e *Engine) RecognizeFile(path string) ([]types.Detection, error) {
	e.mu.Lock()
	faces, err := e.rec.RecognizeFile(path)
	e.mu.Unlock()
	if err != nil {
		return nil, &types.EncodingError{Err: fmt.Errorf("%s: %w", path, err)}
	}
	return toDetections(faces), nil
}

func toDetections(faces []face.Face) []types.Detection {
	out := make([]types.Detection, len(faces))
	for i, f := range faces {
		out[i] = types.Detection{Box: f.Rectangle, Descriptor: types.Descriptor(f.Descriptor)}
	}
	return out
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}
