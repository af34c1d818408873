package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/your-org/speakerid/internal/config"
	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/observability"
	"github.com/your-org/speakerid/internal/storage"
)

// galleryRecord is one line of a JSONL gallery export.
type galleryRecord struct {
	ExternalID  string          `json:"external_id"`
	SpeakerID   string          `json:"speaker_id"`
	DisplayName string          `json:"display_name"`
	Embedding   []float32       `json:"embedding"`
	Metadata    json.RawMessage `json:"metadata"`
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	objectKey := flag.String("object", "", "gallery JSONL object key in MinIO (e.g. imports/gallery.jsonl)")
	filePath := flag.String("file", "", "local gallery JSONL file (alternative to -object)")
	flag.Parse()

	if *objectKey == "" && *filePath == "" {
		fmt.Fprintln(os.Stderr, "one of -object or -file is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	db, err := storage.NewPostgresStore(cfg.Database, cfg.Identify.Dim)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background()); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var src *bufio.Scanner
	if *filePath != "" {
		f, err := os.Open(*filePath)
		if err != nil {
			slog.Error("open gallery file", "path", *filePath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		src = bufio.NewScanner(f)
	} else {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		obj, err := minioStore.GetObjectStream(ctx, *objectKey)
		if err != nil {
			slog.Error("open gallery object", "key", *objectKey, "error", err)
			os.Exit(1)
		}
		defer obj.Close()
		src = bufio.NewScanner(obj)
	}

	// Embeddings can be large; give the scanner room for long lines.
	src.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	imported, rejected := importGallery(ctx, db, src, cfg.Identify.Dim)

	if err := src.Err(); err != nil {
		slog.Error("read gallery", "error", err)
		os.Exit(1)
	}

	slog.Info("gallery import finished", "imported", imported, "rejected", rejected)
}

// importGallery upserts records line by line. Bad records are logged and
// counted but never abort the run; a re-run with a fixed export converges.
func importGallery(ctx context.Context, db *storage.PostgresStore, src *bufio.Scanner, dim int) (imported, rejected int) {
	line := 0
	for src.Scan() {
		line++
		raw := src.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec galleryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("bad gallery record", "line", line, "error", err)
			rejected++
			continue
		}

		if err := identify.ValidateSpeakerID(rec.SpeakerID); err != nil {
			slog.Warn("bad gallery record", "line", line, "error", err)
			rejected++
			continue
		}
		if err := identify.ValidateEmbedding(rec.Embedding, dim); err != nil {
			slog.Warn("bad gallery record", "line", line, "external_id", rec.ExternalID, "error", err)
			rejected++
			continue
		}

		if err := db.EnsureSpeaker(ctx, rec.SpeakerID, rec.DisplayName); err != nil {
			slog.Warn("ensure speaker", "line", line, "speaker_id", rec.SpeakerID, "error", err)
			rejected++
			continue
		}

		if _, err := db.AddEmbedding(ctx, rec.ExternalID, rec.SpeakerID, rec.Embedding, rec.Metadata); err != nil {
			var vErr *identify.ValidationError
			if errors.As(err, &vErr) {
				slog.Warn("bad gallery record", "line", line, "external_id", rec.ExternalID, "error", err)
				rejected++
				continue
			}
			slog.Error("store embedding", "line", line, "external_id", rec.ExternalID, "error", err)
			rejected++
			continue
		}

		imported++
		if imported%1000 == 0 {
			slog.Info("import progress", "imported", imported, "rejected", rejected)
		}
	}
	return imported, rejected
}
