package storage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/logging"
)

// ScanConfig holds the compiled patterns locating the artifact's start
// script and package manifest inside the archive.
type ScanConfig struct {
	startGlobs    []glob.Glob
	manifestGlobs []glob.Glob
}

func NewScanConfig(startPatterns []string, manifestPatterns []string) (*ScanConfig, error) {
	scanConfig := &ScanConfig{}
	for _, pattern := range startPatterns {
		globPattern, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		scanConfig.startGlobs = append(scanConfig.startGlobs, globPattern)
	}
	for _, pattern := range manifestPatterns {
		globPattern, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		scanConfig.manifestGlobs = append(scanConfig.manifestGlobs, globPattern)
	}
	return scanConfig, nil
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, candidate := range globs {
		if candidate.Match(path) {
			return true
		}
	}
	return false
}

const ManifestFormatJson = "json"
const ManifestFormatYAML = "yaml"

// ManifestScanResult is the parsed content of one package manifest entry.
type ManifestScanResult struct {
	Content      map[string]interface{}
	Format       string
	Unrecognized bool
	Error        error
}

// ArtifactScanResult describes whether the archive satisfies the expected
// layout: at least one start script and one parseable package manifest.
type ArtifactScanResult struct {
	StartScripts []string
	Manifests    map[string]*ManifestScanResult
	Failed       bool
}

func (r *ArtifactScanResult) LayoutSatisfied() bool {
	if r.Failed || len(r.StartScripts) == 0 {
		return false
	}
	for _, manifest := range r.Manifests {
		if manifest.Error == nil && !manifest.Unrecognized {
			return true
		}
	}
	return false
}

type ArtifactsScanner interface {
	ScanArchive(r io.Reader, config *ScanConfig) (*ArtifactScanResult, error)
}

type ArtifactsScannerImpl struct {
	blockLoadSize uint32
}

func NewArtifactsScanner(artifactsConfig *config.ArtifactsConfig) *ArtifactsScannerImpl {
	mimetype.SetLimit(artifactsConfig.LoadSize)
	return &ArtifactsScannerImpl{
		blockLoadSize: artifactsConfig.LoadSize,
	}
}

func (e *ArtifactsScannerImpl) ScanArchive(r io.Reader, scanConfig *ScanConfig) (result *ArtifactScanResult, err error) {
	t0 := time.Now()
	nFiles := 0
	defer func() {
		td := time.Since(t0)
		if err == nil {
			logging.Logger.Debugw("artifact scan finished", "file-count", nFiles, "duration", td)
		} else {
			logging.Logger.Errorw("error scanning artifact tarball", "file-count", nFiles, "duration", td, "error", err)
		}
	}()
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("requires gzip-compressed artifact: %v", err)
	}
	tr := tar.NewReader(zr)
	result = &ArtifactScanResult{Manifests: make(map[string]*ManifestScanResult)}
	for {
		f, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar error: %v", err)
		}
		if f.Typeflag != tar.TypeReg {
			continue
		}
		path := filepath.FromSlash(f.Name)
		nFiles++
		if matchAny(scanConfig.startGlobs, path) {
			result.StartScripts = append(result.StartScripts, path)
		}
		if !matchAny(scanConfig.manifestGlobs, path) {
			continue
		}

		manifest := &ManifestScanResult{Content: make(map[string]interface{})}
		if err := e.scanManifest(tr, manifest); err != nil {
			manifest.Error = err
			result.Failed = true
			logging.Logger.Debugw("error scanning manifest entry", "name", path, "error", err)
		}
		result.Manifests[path] = manifest
	}
	return result, nil
}

func (e *ArtifactsScannerImpl) scanManifest(reader io.Reader, manifest *ManifestScanResult) error {
	var isJson bool
	var isText bool
	var memBuf bytes.Buffer
	buffer := make([]byte, e.blockLoadSize)
	mimeComputed := false
	for {
		n, err := reader.Read(buffer)
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			break
		}

		if nw, wErr := memBuf.Write(buffer[:n]); wErr != nil || nw != n {
			return errors.New("error writing memory buffer")
		}
		if !mimeComputed {
			mimeComputed = true
			mime := mimetype.Detect(buffer[:n])
			isJson = mime.Is("application/json")
			isText = mime.Is("text/plain")
			if !isText && !isJson {
				manifest.Unrecognized = true
				return nil
			}
		}
	}

	if isJson {
		manifest.Format = ManifestFormatJson
		manifest.Unrecognized = false
		if err := json.Unmarshal(memBuf.Bytes(), &manifest.Content); err != nil {
			var sErr *json.SyntaxError
			if !errors.As(err, &sErr) {
				return err
			}
			return fmt.Errorf("json syntax error: %s: %v", sErr.Error(), sErr.Offset)
		}
	} else if isText {
		if err := yaml.Unmarshal(memBuf.Bytes(), &manifest.Content); err != nil {
			// Text entries that are not valid yaml are just not manifests.
			manifest.Unrecognized = true
			return nil
		}
		manifest.Format = ManifestFormatYAML
		manifest.Unrecognized = false
	}

	return nil
}
