package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

type model struct {
	Name string
	URL  string
}

var models = map[string][]model{
	"pigo": {
		{
			Name: "facefinder",
			URL:  "https://raw.githubusercontent.com/esimov/pigo/master/cascade/facefinder",
		},
	},
	"dlib": {
		{
			Name: "shape_predictor_5_face_landmarks.dat",
			URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
		},
		{
			Name: "dlib_face_recognition_resnet_model_v1.dat",
			URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
		},
		{
			Name: "mmod_human_face_detector.dat",
			URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
		},
	},
}

func cmdDownloadModels(args []string) error {
	backend := cfg.Detector.Backend
	if backend == "none" || backend == "" {
		backend = "pigo"
	}
	if len(args) > 0 {
		backend = args[0]
	}
	modelDir := cfg.Detector.ModelPath
	if len(args) > 1 {
		modelDir = args[1]
	}

	list, ok := models[backend]
	if !ok {
		return fmt.Errorf("no models for backend %q (must be pigo or dlib)", backend)
	}

	log := logging.Component("models")
	log.Infof("Downloading %s models to: %s", backend, modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, m := range list {
		targetPath := filepath.Join(modelDir, m.Name)
		if _, err := os.Stat(targetPath); err == nil {
			log.Infof("Model %s already exists, skipping", m.Name)
			continue
		}

		log.Infof("Downloading %s...", m.Name)
		if err := download(m.URL, targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", m.Name, err)
		}
		log.Infof("Successfully downloaded %s", m.Name)
	}

	fmt.Printf("Models for %s are in %s\n", backend, modelDir)
	return nil
}

// download fetches url into targetPath, decompressing .bz2 payloads. A partial
// file is removed on failure.
func download(url, targetPath string) (err error) {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := targetPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	var body io.Reader = resp.Body
	if strings.HasSuffix(url, ".bz2") {
		body = bzip2.NewReader(resp.Body)
	}

	if _, err = io.Copy(out, body); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, targetPath)
}
