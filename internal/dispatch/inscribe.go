package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/covenant"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
)

var inscribeActions = []string{
	"remember", "remember_batch", "link", "unlink", "pin",
	"activate", "deactivate", "clear_active", "ingest",
}

// Inscribe is the write-side workflow facade: creating, linking, pinning
// and un-pinning memories, managing active working context, and ingesting
// an external document -- grounded on workflows/inscribe.py's dispatch().
func Inscribe(ctx context.Context, d *Deps, sessionID, projectPath, action string, rawArgs map[string]interface{}) (interface{}, error) {
	if !contains(inscribeActions, action) {
		return nil, NewInvalidActionError(action, inscribeActions)
	}
	if err := d.Gate(projectPath, "inscribe", action); err != nil {
		return nil, err
	}

	args, clientMeta := covenant.ExtractClientMeta(rawArgs)
	p := params(args)

	switch action {
	case "remember":
		content, err := p.requireStr(action, "content")
		if err != nil {
			return nil, err
		}
		category, err := p.requireStr(action, "category")
		if err != nil {
			return nil, err
		}
		return d.Memory.Remember(ctx, memory.RememberRequest{
			Project:      projectPath,
			Category:     category,
			Content:      content,
			Rationale:    p.str("rationale"),
			Context:      p.mapVal("context"),
			Tags:         p.strSlice("tags"),
			FilePath:     p.str("file_path"),
			HappenedAt:   p.timePtr("happened_at"),
			SourceClient: clientMeta.Client,
			SourceModel:  sourceModelOf(clientMeta),
		})

	case "remember_batch":
		rawMems, ok := args["memories"].([]interface{})
		if !ok || len(rawMems) == 0 {
			return nil, NewMissingParamError("memories", action)
		}
		reqs := make([]memory.RememberRequest, 0, len(rawMems))
		for _, raw := range rawMems {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			ip := params(item)
			reqs = append(reqs, memory.RememberRequest{
				Project:      projectPath,
				Category:     ip.str("category"),
				Content:      ip.str("content"),
				Rationale:    ip.str("rationale"),
				Context:      ip.mapVal("context"),
				Tags:         ip.strSlice("tags"),
				FilePath:     ip.str("file_path"),
				HappenedAt:   ip.timePtr("happened_at"),
				SourceClient: clientMeta.Client,
				SourceModel:  sourceModelOf(clientMeta),
			})
		}
		return d.Memory.RememberBatch(ctx, reqs)

	case "link":
		sourceID, err := p.requireStr(action, "source_id")
		if err != nil {
			return nil, err
		}
		targetID, err := p.requireStr(action, "target_id")
		if err != nil {
			return nil, err
		}
		relationship, err := p.requireStr(action, "relationship")
		if err != nil {
			return nil, err
		}
		return nil, d.Memory.Link(sourceID, targetID, relationship, p.str("description"))

	case "unlink":
		sourceID, err := p.requireStr(action, "source_id")
		if err != nil {
			return nil, err
		}
		targetID, err := p.requireStr(action, "target_id")
		if err != nil {
			return nil, err
		}
		relationship, err := p.requireStr(action, "relationship")
		if err != nil {
			return nil, err
		}
		return nil, d.Memory.Unlink(sourceID, targetID, relationship)

	case "pin":
		memoryID, err := p.requireStr(action, "memory_id")
		if err != nil {
			return nil, err
		}
		return nil, d.Memory.Pin(memoryID, p.boolVal("pinned", true))

	case "activate":
		memoryID, err := p.requireStr(action, "memory_id")
		if err != nil {
			return nil, err
		}
		return nil, d.Memory.ActivateContext(sessionID, memoryID, projectPath, p.floatVal("expires_in_hours", 0))

	case "deactivate":
		memoryID, err := p.requireStr(action, "memory_id")
		if err != nil {
			return nil, err
		}
		return nil, d.Memory.DeactivateContext(sessionID, memoryID)

	case "clear_active":
		return nil, d.Memory.ClearActiveContext(sessionID)

	case "ingest":
		url, err := p.requireStr(action, "url")
		if err != nil {
			return nil, err
		}
		topic := p.str("topic")
		if topic == "" {
			topic = url
		}
		return ingestDoc(ctx, d, projectPath, url, topic, p.intVal("chunk_size", 2000), clientMeta)
	}

	return nil, NewInvalidActionError(action, inscribeActions)
}

func sourceModelOf(meta covenant.ClientMeta) string {
	if meta.ProviderID == "" && meta.ModelID == "" {
		return ""
	}
	provider := meta.ProviderID
	if provider == "" {
		provider = "unknown"
	}
	model := meta.ModelID
	if model == "" {
		model = "unknown"
	}
	return fmt.Sprintf("%s/%s", provider, model)
}

// ingestDoc fetches an external document, splits it into chunk_size-sized
// pieces, and stores each as a "learning" memory. Mirrors
// workflows/inscribe.py's _do_ingest, whose own server.ingest_doc fetches
// and chunks the same way.
func ingestDoc(ctx context.Context, d *Deps, projectPath, url, topic string, chunkSize int, meta covenant.ClientMeta) ([]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ingest: fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("ingest: read failed: %w", err)
	}

	if chunkSize <= 0 {
		chunkSize = 2000
	}
	chunks := chunkText(string(body), chunkSize)

	out := make([]interface{}, 0, len(chunks))
	for i, chunk := range chunks {
		mem, err := d.Memory.Remember(ctx, memory.RememberRequest{
			Project:      projectPath,
			Category:     "learning",
			Content:      chunk,
			Rationale:    fmt.Sprintf("ingested from %s (chunk %d/%d)", url, i+1, len(chunks)),
			Tags:         []string{"ingested", topic},
			SourceClient: meta.Client,
			SourceModel:  sourceModelOf(meta),
		})
		if err != nil {
			return out, fmt.Errorf("ingest: failed to store chunk %d: %w", i, err)
		}
		out = append(out, mem)
	}
	return out, nil
}

func chunkText(text string, chunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
