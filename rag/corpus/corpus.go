package corpus

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/rag/document"
)

// Builtin returns the baseline vehicle-maintenance knowledge shipped
// with the service. It is indexed even when no external data sources
// are configured.
func Builtin() []document.Document {
	facts := []string{
		"Regular oil changes should be performed every 5,000 to 7,500 km or every 6 months, whichever comes first. Synthetic oil can extend this interval to 10,000 km.",
		"Tire pressure should be checked monthly. Under-inflated tires reduce fuel efficiency by up to 3% and cause uneven wear. Recommended pressure is usually 30-35 PSI.",
		"Brake pads typically need replacement every 40,000 to 70,000 km. Warning signs include squeaking, grinding noises, and longer stopping distances.",
		"Battery life averages 3-5 years. Signs of a weak battery include slow engine cranking, dim headlights, and electrical issues. Test battery voltage regularly.",
		"Coolant should be flushed and replaced every 50,000 km or every 2 years. Low coolant levels can cause engine overheating and severe damage.",
		"Air filters should be replaced every 20,000 to 30,000 km. A clogged air filter reduces engine performance and fuel efficiency.",
		"Transmission fluid should be checked every 50,000 km. Dark or burnt-smelling fluid indicates it needs replacement.",
		"Worn out brakes are the most critical safety concern. Brake condition is one of the top predictors of maintenance needs.",
		"Weak battery status is a strong indicator of maintenance requirement and one of the top features driving maintenance predictions.",
		"The number of reported issues is the strongest single predictor of maintenance needs. Vehicles with 3+ issues have very high maintenance probability.",
		"Service history frequency matters: vehicles with fewer past services tend to need more urgent maintenance.",
		"Accident history increases maintenance risk. Each past accident adds to the cumulative wear on vehicle components.",
		"Poor maintenance history significantly increases the probability of needing maintenance compared to good or average maintenance history.",
		"Electric vehicles generally have lower mechanical maintenance needs but battery health monitoring is critical.",
		"For fleet management, prioritize vehicles with high mileage-to-age ratio for proactive maintenance scheduling.",
		"Feature attribution shows the top factors driving maintenance prediction: reported issues, worn brake condition, weak battery status, service history, and maintenance history.",
	}
	docs := make([]document.Document, 0, len(facts))
	for i, f := range facts {
		docs = append(docs, document.Document{
			ID:       fmt.Sprintf("builtin-%03d", i),
			Content:  f,
			Metadata: map[string]string{"source": "builtin"},
		})
	}
	return docs
}

// LoadInstructionJSONL reads instruction/input/output records from a
// JSONL stream and renders each as a Q/A document.
func LoadInstructionJSONL(r io.Reader) ([]document.Document, error) {
	type record struct {
		Instruction string `json:"instruction"`
		Input       string `json:"input"`
		Output      string `json:"output"`
	}

	var docs []document.Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: instruction dataset line %d: %v", ferrors.ErrMalformedInput, lineNo, err)
		}
		question := strings.TrimSpace(rec.Instruction + " " + rec.Input)
		docs = append(docs, document.Document{
			ID:       fmt.Sprintf("instruction-%04d", len(docs)),
			Content:  fmt.Sprintf("Q: %s\nA: %s", question, rec.Output),
			Metadata: map[string]string{"source": "instruction_dataset"},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read instruction dataset: %w", err)
	}
	return docs, nil
}

// LoadEnrichedCSV reads per-vehicle summary rows from the enriched
// fleet export, sampling up to maxRows records.
func LoadEnrichedCSV(r io.Reader, maxRows int) ([]document.Document, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: enriched csv header: %v", ferrors.ErrMalformedInput, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var docs []document.Document
	for maxRows <= 0 || len(docs) < maxRows {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: enriched csv row: %v", ferrors.ErrMalformedInput, err)
		}
		content := fmt.Sprintf(
			"Vehicle: %s, Age: %s years, Mileage: %s km, Issues: %s, Risk: %s. Tire: %s, Brake: %s, Battery: %s. %s %s",
			field(row, "Vehicle_Model"),
			field(row, "Vehicle_Age"),
			field(row, "Mileage"),
			field(row, "Reported_Issues"),
			field(row, "risk_level"),
			field(row, "Tire_Condition"),
			field(row, "Brake_Condition"),
			field(row, "Battery_Status"),
			field(row, "vehicle_summary"),
			field(row, "maintenance_recommendation"),
		)
		docs = append(docs, document.Document{
			ID:       fmt.Sprintf("enriched-%04d", len(docs)),
			Content:  content,
			Metadata: map[string]string{"source": "text_enriched"},
		})
	}
	return docs, nil
}

// LoadHTML extracts paragraph and list-item text from an HTML page,
// e.g. a manufacturer service bulletin, into one document per block.
func LoadHTML(r io.Reader, baseID string) ([]document.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ferrors.ErrMalformedInput, err)
	}
	var docs []document.Document
	doc.Find("p, li").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) < 40 {
			return
		}
		docs = append(docs, document.Document{
			ID:       fmt.Sprintf("%s-%03d", baseID, len(docs)),
			Content:  text,
			Metadata: map[string]string{"source": "html", "page": baseID},
		})
	})
	return docs, nil
}

// LoadFile dispatches to the loader matching the file extension.
func LoadFile(path string) ([]document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(path, ".jsonl"):
		return LoadInstructionJSONL(f)
	case strings.HasSuffix(path, ".csv"):
		return LoadEnrichedCSV(f, 500)
	case strings.HasSuffix(path, ".html"), strings.HasSuffix(path, ".htm"):
		base := strings.TrimSuffix(strings.TrimSuffix(path, ".html"), ".htm")
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		return LoadHTML(f, base)
	default:
		return nil, fmt.Errorf("%w: unsupported corpus file %q", ferrors.ErrMalformedInput, path)
	}
}
