package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoScenes is returned when the input directory holds no GeoTIFF.
var ErrNoScenes = errors.New("no GeoTIFF scenes in input directory")

// SceneError ties a failure to the scene and stage that produced it.
type SceneError struct {
	Scene string
	Stage string
	Err   error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Scene, e.Err)
}

func (e *SceneError) Unwrap() error { return e.Err }

func sceneErr(stage, scene string, err error) error {
	if err == nil {
		return nil
	}
	var se *SceneError
	if errors.As(err, &se) {
		return err
	}
	return &SceneError{Scene: scene, Stage: stage, Err: err}
}
