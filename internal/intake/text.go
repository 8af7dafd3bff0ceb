package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/optimizer"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/repository"
)

const textPrompt = `Extract DME delivery and pickup orders from this text.

TEXT:
%s

Return a JSON array of orders using exactly these keys:
[
  {
    "order_type": "Delivery or Pickup",
    "customer": "full name",
    "phone": "10 digit phone number",
    "address": "street address",
    "city": "city",
    "zip_code": "zip code",
    "items": "comma separated equipment list",
    "time_window": "single string such as 10:00 AM - 2:00 PM",
    "notes": "special instructions or gate codes"
  }
]

Return only the JSON array, no other text.`

// TextParser extracts orders from free text with a language model.
type TextParser struct {
	model   optimizer.Model
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewTextParser(model optimizer.Model, timeout time.Duration, log *zap.Logger) *TextParser {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TextParser{model: model, timeout: timeout, log: log, now: time.Now}
}

// Parse returns one Row per extracted order; Line is the 1-based position in
// the model's answer. Every row is stamped with the parse time.
func (p *TextParser) Parse(ctx context.Context, text string) ([]Row, []RowError, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, apperr.Invalid("text", "required")
	}
	if p.model.LLM == nil {
		return nil, nil, &apperr.OptimizationError{Model: p.model.Name, Err: errors.New("no text parsing model configured")}
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	prompt := strings.Replace(textPrompt, "%s", text, 1)
	answer, err := llms.GenerateFromSinglePrompt(cctx, p.model.LLM, prompt, llms.WithTemperature(0))
	if err != nil {
		return nil, nil, &apperr.OptimizationError{Model: p.model.Name, Err: err}
	}

	raws, err := decodeObjects(optimizer.StripFences(answer))
	if err != nil {
		return nil, nil, &apperr.OptimizationParseError{Err: err}
	}
	var out []Row
	var rowErrs []RowError
	for i, raw := range raws {
		rec := make(map[string]string, len(raw))
		for k, v := range raw {
			rec[tablestore.NormalizeKey(k)] = string(v)
		}
		in, err := InputFromRecord(repository.CanonicalOrderRecord(rec))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: i + 1, Err: err.Error()})
			continue
		}
		out = append(out, Row{Line: i + 1, Input: in})
	}
	stamp(out, p.now().UTC())
	p.log.Info("orders parsed from text", zap.String("model", p.model.Name), zap.Int("orders", len(out)), zap.Int("rejected", len(rowErrs)))
	return out, rowErrs, nil
}

// decodeObjects accepts an array of objects or a single object.
func decodeObjects(s string) ([]map[string]optimizer.FlexString, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty response")
	}
	if s[0] == '{' {
		var one map[string]optimizer.FlexString
		if err := json.Unmarshal([]byte(s), &one); err != nil {
			return nil, err
		}
		return []map[string]optimizer.FlexString{one}, nil
	}
	var many []map[string]optimizer.FlexString
	if err := json.Unmarshal([]byte(s), &many); err != nil {
		return nil, err
	}
	return many, nil
}
