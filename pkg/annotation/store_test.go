package annotation

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"dasannotate/internal/models"
	"dasannotate/pkg/samplefile"
)

// recordingLogger keeps warnings and errors for inspection
type recordingLogger struct {
	warnings []string
	errors   []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.warnings = append(l.warnings, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.errors = append(l.errors, msg)
}

// createTempDir creates a temporary directory for test files
func createTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "annotation-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	return dir
}

// writeSampleFile writes an int16 sample file with the given shape
func writeSampleFile(t *testing.T, dir string, channels, steps int) string {
	t.Helper()
	path := filepath.Join(dir, "1700000000000_1700000001000_"+strconv.Itoa(channels)+".bin")
	raw := make([]byte, channels*steps*2)
	for i := 0; i < channels*steps; i++ {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(i%100))
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("Failed to write sample file: %v", err)
	}
	return path
}

// writeJSON marshals v into dir/labels.json
func writeJSON(t *testing.T, dir string, v interface{}) string {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal document: %v", err)
	}
	path := filepath.Join(dir, Basename+Suffix)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write label file: %v", err)
	}
	return path
}

func sampleDocument(imageDir string, height, width int) map[string]interface{} {
	return map[string]interface{}{
		"version":     Version,
		"flags":       map[string]interface{}{"reviewed": true},
		"imageDir":    imageDir,
		"imageHeight": height,
		"imageWidth":  width,
		"customField": 42,
		"shapes": []interface{}{
			map[string]interface{}{
				"label":            "vehicle",
				"points":           [][]float64{{1, 2}, {3.5, 4}, {10, 0}},
				"group_id":         nil,
				"shape_type":       "polygon",
				"flags":            map[string]interface{}{},
				"description":      nil,
				"mask":             nil,
				"customShapeField": "x",
			},
			map[string]interface{}{
				"label":       "footstep",
				"points":      [][]float64{{5, 5}, {6, 6}},
				"group_id":    3,
				"shape_type":  "line",
				"flags":       map[string]interface{}{"uncertain": false},
				"description": "near channel 5",
				"mask":        nil,
			},
		},
	}
}

func TestLoad(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	samplePath := writeSampleFile(t, tmpDir, 100, 50)
	labelPath := writeJSON(t, tmpDir, sampleDocument(tmpDir, 100, 50))

	logger := &recordingLogger{}
	store := NewStore(StoreParams{Logger: logger})
	doc, err := store.Load(labelPath, samplePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(doc.Shapes) != 2 {
		t.Fatalf("Expected 2 shapes, got %d", len(doc.Shapes))
	}
	first, second := doc.Shapes[0], doc.Shapes[1]
	if first.Label != "vehicle" || second.Label != "footstep" {
		t.Errorf("Shapes out of order: %q, %q", first.Label, second.Label)
	}
	if !reflect.DeepEqual(first.Points, [][2]float64{{1, 2}, {3.5, 4}, {10, 0}}) {
		t.Errorf("Unexpected points %v", first.Points)
	}
	if first.GroupID != nil || first.Description != nil || first.Mask != nil {
		t.Errorf("Expected empty optional fields, got %+v", first)
	}
	if second.GroupID == nil || *second.GroupID != 3 {
		t.Errorf("Expected group id 3, got %v", second.GroupID)
	}
	if second.ShapeType != "line" || second.Description == nil || *second.Description != "near channel 5" {
		t.Errorf("Unexpected second shape %+v", second)
	}
	if !doc.Flags["reviewed"] {
		t.Error("Expected document flag reviewed")
	}
	if doc.ImageHeight != 100 || doc.ImageWidth != 50 {
		t.Errorf("Expected 100x50, got %dx%d", doc.ImageHeight, doc.ImageWidth)
	}
	if len(logger.warnings) != 0 || len(logger.errors) != 0 {
		t.Errorf("Expected no diagnostics, got %v %v", logger.warnings, logger.errors)
	}

	if store.Document() != doc || store.Filename() != labelPath {
		t.Error("Store did not record the loaded document")
	}
	if store.Samples() == nil || store.Samples().Buffer.Rows != 100 {
		t.Error("Store did not record the decoded samples")
	}
}

func TestUnknownKeyPreservation(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	labelPath := writeJSON(t, tmpDir, sampleDocument(tmpDir, 100, 50))
	store := NewStore(StoreParams{Logger: &recordingLogger{}})
	doc, err := store.Load(labelPath, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := string(doc.OtherData["customField"]); got != "42" {
		t.Errorf("Expected customField 42, got %q", got)
	}
	if got := string(doc.Shapes[0].OtherData["customShapeField"]); got != `"x"` {
		t.Errorf("Expected customShapeField \"x\", got %q", got)
	}
	for _, key := range ReservedDocumentKeys {
		if _, ok := doc.OtherData[key]; ok {
			t.Errorf("Reserved key %q leaked into OtherData", key)
		}
	}

	outPath := filepath.Join(tmpDir, "out.json")
	if err := store.Save(outPath, doc.SaveParams(filepath.Join(tmpDir, "x.bin"))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	var saved map[string]interface{}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("Saved file is not JSON: %v", err)
	}
	if saved["customField"] != float64(42) {
		t.Errorf("customField not re-emitted: %v", saved["customField"])
	}
	shape := saved["shapes"].([]interface{})[0].(map[string]interface{})
	if shape["customShapeField"] != "x" {
		t.Errorf("customShapeField not re-emitted: %v", shape["customShapeField"])
	}
}

// TestRoundTrip checks save(load(X)) is semantically equal to X
func TestRoundTrip(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	samplePath := writeSampleFile(t, tmpDir, 100, 50)
	original := sampleDocument(tmpDir, 100, 50)
	labelPath := writeJSON(t, tmpDir, original)

	store := NewStore(StoreParams{Logger: &recordingLogger{}})
	doc, err := store.Load(labelPath, samplePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	outPath := filepath.Join(tmpDir, "roundtrip.json")
	if err := store.Save(outPath, doc.SaveParams(samplePath)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if store.Filename() != outPath {
		t.Errorf("Expected filename %s, got %s", outPath, store.Filename())
	}

	want := normalizeJSON(t, original)
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	var got interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Saved file is not JSON: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("Round trip mismatch:\nwant %v\ngot  %v", want, got)
	}

	// a second load sees the same document
	again, err := NewStore(StoreParams{Logger: &recordingLogger{}}).Load(outPath, samplePath)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !reflect.DeepEqual(doc, again) {
		t.Errorf("Reloaded document differs:\nwant %+v\ngot  %+v", doc, again)
	}
}

// normalizeJSON converts v to the generic form produced by json.Unmarshal
func normalizeJSON(t *testing.T, v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	return out
}

func TestDimensionReconciliation(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	samplePath := writeSampleFile(t, tmpDir, 100, 50)
	labelPath := writeJSON(t, tmpDir, sampleDocument(tmpDir, 99, 50))

	logger := &recordingLogger{}
	doc, err := NewStore(StoreParams{Logger: logger}).Load(labelPath, samplePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.ImageHeight != 100 {
		t.Errorf("Expected corrected height 100, got %d", doc.ImageHeight)
	}
	if len(logger.warnings) != 1 {
		t.Errorf("Expected one warning, got %v", logger.warnings)
	}

	// absent dimensions are filled in silently
	raw := sampleDocument(tmpDir, 0, 0)
	delete(raw, "imageHeight")
	delete(raw, "imageWidth")
	labelPath = writeJSON(t, tmpDir, raw)
	logger = &recordingLogger{}
	doc, err = NewStore(StoreParams{Logger: logger}).Load(labelPath, samplePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.ImageHeight != 100 || doc.ImageWidth != 50 {
		t.Errorf("Expected 100x50, got %dx%d", doc.ImageHeight, doc.ImageWidth)
	}
	if len(logger.warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", logger.warnings)
	}
}

func TestLoadUnreadableSamples(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	labelPath := writeJSON(t, tmpDir, sampleDocument(tmpDir, 99, 7))
	missing := filepath.Join(tmpDir, "1_2_3.bin")

	logger := &recordingLogger{}
	store := NewStore(StoreParams{Logger: logger})
	doc, err := store.Load(labelPath, missing)
	if err != nil {
		t.Fatalf("Expected unreadable samples to be tolerated, got %v", err)
	}
	if store.Samples() != nil {
		t.Error("Expected no samples")
	}
	if len(logger.errors) != 1 {
		t.Errorf("Expected one logged error, got %v", logger.errors)
	}
	if doc.ImageHeight != 99 || doc.ImageWidth != 7 {
		t.Errorf("Expected declared dimensions 99x7, got %dx%d", doc.ImageHeight, doc.ImageWidth)
	}
}

func TestLoadErrors(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	missingLabel := sampleDocument(tmpDir, 1, 1)
	missingLabel["shapes"] = []interface{}{map[string]interface{}{"points": [][]float64{{0, 0}}}}

	missingPoints := sampleDocument(tmpDir, 1, 1)
	missingPoints["shapes"] = []interface{}{map[string]interface{}{"label": "a"}}

	badPoints := sampleDocument(tmpDir, 1, 1)
	badPoints["shapes"] = []interface{}{map[string]interface{}{"label": "a", "points": "nope"}}

	pointTriples := sampleDocument(tmpDir, 1, 1)
	pointTriples["shapes"] = []interface{}{map[string]interface{}{"label": "a", "points": [][]float64{{1, 2, 3}}}}

	noShapes := sampleDocument(tmpDir, 1, 1)
	delete(noShapes, "shapes")

	badMask := sampleDocument(tmpDir, 1, 1)
	badMask["shapes"] = []interface{}{map[string]interface{}{
		"label": "a", "points": [][]float64{}, "mask": "not base64!",
	}}

	fractionalHeight := sampleDocument(tmpDir, 1, 1)
	fractionalHeight["imageHeight"] = 1.5

	cases := map[string]interface{}{
		"missing label":     missingLabel,
		"missing points":    missingPoints,
		"bad points":        badPoints,
		"point triples":     pointTriples,
		"no shapes":         noShapes,
		"bad mask":          badMask,
		"fractional height": fractionalHeight,
		"not an object":     []int{1, 2},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeJSON(t, tmpDir, doc)
			_, err := NewStore(StoreParams{Logger: &recordingLogger{}}).Load(path, "")
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("Expected *FormatError, got %v", err)
			}
		})
	}

	t.Run("malformed JSON", func(t *testing.T) {
		path := filepath.Join(tmpDir, "broken.json")
		if err := os.WriteFile(path, []byte(`{"shapes": [`), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		_, err := NewStore(StoreParams{}).Load(path, "")
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("Expected *FormatError, got %v", err)
		}
	})

	t.Run("missing label file", func(t *testing.T) {
		_, err := NewStore(StoreParams{}).Load(filepath.Join(tmpDir, "absent.json"), "")
		var fe *FileError
		if !errors.As(err, &fe) {
			t.Errorf("Expected *FileError, got %v", err)
		}
	})

	t.Run("malformed sample name", func(t *testing.T) {
		path := writeJSON(t, tmpDir, sampleDocument(tmpDir, 1, 1))
		_, err := NewStore(StoreParams{Logger: &recordingLogger{}}).Load(path, filepath.Join(tmpDir, "badname.bin"))
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("Expected *FormatError, got %v", err)
		}
		var sfe *samplefile.FormatError
		if !errors.As(err, &sfe) {
			t.Errorf("Expected wrapped *samplefile.FormatError, got %v", err)
		}
	})
}

// TestFailedLoadKeepsState checks a failed load leaves the previous document
func TestFailedLoadKeepsState(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	samplePath := writeSampleFile(t, tmpDir, 4, 4)
	goodPath := writeJSON(t, tmpDir, sampleDocument(tmpDir, 4, 4))
	store := NewStore(StoreParams{Logger: &recordingLogger{}})
	doc, err := store.Load(goodPath, samplePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	badPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"shapes": [{"label": 1}]}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := store.Load(badPath, samplePath); err == nil {
		t.Fatal("Expected load of invalid document to fail")
	}
	if store.Document() != doc || store.Filename() != goodPath {
		t.Error("Failed load replaced the store state")
	}
}

func TestNewerVersionWarning(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	raw := sampleDocument(tmpDir, 1, 1)
	raw["version"] = "99.0.0"
	path := writeJSON(t, tmpDir, raw)

	logger := &recordingLogger{}
	if _, err := NewStore(StoreParams{Logger: logger}).Load(path, ""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(logger.warnings) != 1 {
		t.Errorf("Expected a version warning, got %v", logger.warnings)
	}

	if newerThan("not-a-version", Version) || newerThan("1.0.0", Version) {
		t.Error("Expected older or unparseable versions not to be newer")
	}
	if !newerThan("v2.0.0", "1.9.9") {
		t.Error("Expected v2.0.0 to be newer than 1.9.9")
	}
}

func TestSaveContractError(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	store := NewStore(StoreParams{Logger: &recordingLogger{}})
	path := filepath.Join(tmpDir, "labels.json")

	err := store.Save(path, SaveParams{
		Shapes:    []Shape{{Label: "a"}},
		OtherData: map[string]json.RawMessage{"imageWidth": json.RawMessage("3")},
	})
	var ce *ContractError
	if !errors.As(err, &ce) || ce.Key != "imageWidth" || ce.Scope != "document" {
		t.Errorf("Expected document ContractError for imageWidth, got %v", err)
	}
	var fe *FileError
	if !errors.As(err, &fe) {
		t.Errorf("Expected error to be a *FileError, got %v", err)
	}

	err = store.Save(path, SaveParams{
		Shapes: []Shape{
			{Label: "a"},
			{Label: "b", OtherData: map[string]json.RawMessage{"mask": json.RawMessage("null")}},
		},
	})
	if !errors.As(err, &ce) || ce.Key != "mask" || ce.Scope != "shape 1" {
		t.Errorf("Expected shape ContractError for mask, got %v", err)
	}

	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("Expected no file to be written on contract violation")
	}
	if store.Filename() != "" {
		t.Errorf("Expected filename to stay empty, got %q", store.Filename())
	}
}

func TestSaveFormatting(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	store := NewStore(StoreParams{Logger: &recordingLogger{}, Version: "2.0.0"})
	path := filepath.Join(tmpDir, "labels.json")
	err := store.Save(path, SaveParams{
		Shapes:      []Shape{{Label: "光缆 <A&B>", Points: [][2]float64{{1, 2}}}},
		ImagePath:   "/data/run1/1_2_3.bin",
		ImageHeight: 3,
		ImageWidth:  10,
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Contains(data, []byte("光缆 <A&B>")) {
		t.Errorf("Expected label written literally, got:\n%s", data)
	}
	if !bytes.HasPrefix(data, []byte("{\n  \"version\": \"2.0.0\",\n  \"flags\": {},\n  \"shapes\": [")) {
		t.Errorf("Unexpected layout:\n%s", data)
	}
	if !bytes.Contains(data, []byte(`"imageDir": "/data/run1"`)) {
		t.Errorf("Expected imageDir /data/run1, got:\n%s", data)
	}
	if !bytes.Contains(data, []byte(`"shape_type": "polygon"`)) {
		t.Errorf("Expected default shape type, got:\n%s", data)
	}
	if !bytes.Contains(data, []byte(`"mask": null`)) {
		t.Errorf("Expected an explicit null mask, got:\n%s", data)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the label file in %s, found %d entries", tmpDir, len(entries))
	}
}

func TestSaveWriteFailure(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	store := NewStore(StoreParams{Logger: &recordingLogger{}})
	err := store.Save(filepath.Join(tmpDir, "missing", "labels.json"), SaveParams{})
	var fe *FileError
	if !errors.As(err, &fe) {
		t.Errorf("Expected *FileError, got %v", err)
	}
	if store.Filename() != "" {
		t.Errorf("Expected filename to stay empty, got %q", store.Filename())
	}
}

func TestMaskRoundTrip(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	mask := models.Mask{
		{true, false, false},
		{false, true, true},
	}
	store := NewStore(StoreParams{Logger: &recordingLogger{}})
	path := filepath.Join(tmpDir, "labels.json")
	err := store.Save(path, SaveParams{
		Shapes: []Shape{
			{Label: "masked", Points: [][2]float64{{0, 0}, {2, 1}}, ShapeType: "mask", Mask: mask},
			{Label: "plain", Points: [][2]float64{{0, 0}}},
		},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	doc, err := store.Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(doc.Shapes[0].Mask, mask) {
		t.Errorf("Mask mismatch: expected %v, got %v", mask, doc.Shapes[0].Mask)
	}
	if doc.Shapes[1].Mask != nil {
		t.Errorf("Expected no mask on second shape, got %v", doc.Shapes[1].Mask)
	}

	if _, err := (PNGMaskCodec{}).EncodeMask(models.Mask{{true}, {true, false}}); err == nil {
		t.Error("Expected error for ragged mask")
	}
}

func TestIsAnnotationFile(t *testing.T) {
	tests := map[string]bool{
		"labels.json":       true,
		"/a/b/LABELS.JSON":  true,
		"x.Json":            true,
		"labels.json.bak":   false,
		"1_2_3.bin":         false,
		"json":              false,
		"/dir.json/samples": false,
	}
	for path, want := range tests {
		if got := IsAnnotationFile(path); got != want {
			t.Errorf("IsAnnotationFile(%q) = %v, expected %v", path, got, want)
		}
	}
}

func TestDirname(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"1_2_3.bin":       "",
		"/1_2_3.bin":      "/",
		"/data/1_2_3.bin": "/data",
		"rel/dir/x.bin":   "rel/dir",
	}
	for in, want := range tests {
		if got := dirname(filepath.FromSlash(in)); got != filepath.FromSlash(want) {
			t.Errorf("dirname(%q) = %q, expected %q", in, got, want)
		}
	}
	if !strings.HasSuffix(Basename+Suffix, ".json") {
		t.Error("Expected label files to use the .json suffix")
	}
}
