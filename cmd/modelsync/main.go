// Command modelsync is the operator tool for the model bucket: it syncs
// artifacts locally or through the Temporal worker, publishes new artifact
// folders and manages buckets.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/thought-machine/go-flags"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/config"
	"github.com/yourorg/model-serve/internal/logging"
	"github.com/yourorg/model-serve/internal/presign"
	"github.com/yourorg/model-serve/internal/storage"
	"github.com/yourorg/model-serve/internal/types"
	"github.com/yourorg/model-serve/internal/workflow"
)

var opts struct {
	Bucket string `short:"b" long:"bucket" description:"Bucket to operate on (defaults to BUCKET_NAME)"`

	Sync struct {
		Force    bool `short:"f" long:"force" description:"Download even when the local directory exists"`
		Temporal bool `long:"temporal" description:"Run the sync on the Temporal worker instead of locally"`
	} `command:"sync" description:"Materialize every configured model artifact"`

	UploadFolder struct {
		Args struct {
			Dir    string `positional-arg-name:"dir" required:"true"`
			Prefix string `positional-arg-name:"prefix" required:"true"`
		} `positional-args:"true"`
	} `command:"upload-folder" description:"Upload a local model directory under a prefix (flattened)"`

	ListBuckets struct{} `command:"list-buckets" description:"List buckets"`
	ListObjects struct{} `command:"list-objects" description:"List the first page of objects in the bucket"`
	Create      struct{} `command:"create-bucket" description:"Create the bucket if missing"`
	DeleteAll   struct{} `command:"delete-objects" description:"Delete every object in the bucket"`
	Delete      struct{} `command:"delete-bucket" description:"Delete the bucket if present"`

	Presign struct {
		TTL  time.Duration `long:"ttl" default:"1h" description:"URL lifetime"`
		Args struct {
			File string `positional-arg-name:"file" required:"true"`
			Key  string `positional-arg-name:"key"`
		} `positional-args:"true"`
	} `command:"presign" description:"Upload a file and print a presigned GET URL for it"`
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if opts.Bucket == "" {
		opts.Bucket = cfg.Bucket
	}
	zl := logging.New(cfg.LogLevel)
	defer zl.Sync()

	if err := run(context.Background(), parser.Active.Name, cfg, zl); err != nil {
		zl.Error("command failed", zap.String("command", parser.Active.Name), zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg *config.Config, zl *zap.Logger) error {
	if command == "sync" && opts.Sync.Temporal {
		return syncViaTemporal(ctx, cfg, zl)
	}

	s3c, err := storage.NewS3(ctx, storage.Options{
		Endpoint:       cfg.S3.Endpoint,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		CallTimeout:    cfg.S3.CallTimeout,
		Logger:         zl,
	})
	if err != nil {
		return err
	}

	switch command {
	case "sync":
		cache := artifacts.New(s3c, artifacts.Options{CompletionMarker: cfg.CompletionMarker, Logger: zl})
		results, err := cache.EnsureAllPresent(ctx, opts.Bucket, cfg.Descriptors(), opts.Sync.Force)
		for _, r := range results {
			fmt.Printf("%-10s downloaded=%-5t objects=%d %s\n", r.Name, r.Downloaded, r.Objects, r.LocalPath)
		}
		return err
	case "upload-folder":
		n, err := s3c.UploadFolder(ctx, opts.UploadFolder.Args.Dir, opts.Bucket, opts.UploadFolder.Args.Prefix)
		fmt.Printf("uploaded %d files\n", n)
		return err
	case "list-buckets":
		names, err := s3c.ListBuckets(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
	case "list-objects":
		keys, err := s3c.ListObjects(ctx, opts.Bucket)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	case "create-bucket":
		return s3c.CreateBucket(ctx, opts.Bucket)
	case "delete-objects":
		n, err := s3c.DeleteObjects(ctx, opts.Bucket)
		fmt.Printf("deleted %d objects\n", n)
		return err
	case "delete-bucket":
		return s3c.DeleteBucket(ctx, opts.Bucket)
	case "presign":
		u, err := presign.NewIssuer(s3c, opts.Presign.TTL).Issue(ctx, opts.Presign.Args.File, opts.Bucket, opts.Presign.Args.Key)
		if err != nil {
			return err
		}
		fmt.Println(u)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func syncViaTemporal(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.Address, Namespace: cfg.Temporal.Namespace})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	we, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: cfg.Temporal.TaskQueue}, workflow.Name, types.SyncParams{
		Bucket:      opts.Bucket,
		Descriptors: cfg.Descriptors(),
		Force:       opts.Sync.Force,
	})
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	zl.Info("sync workflow started", zap.String("workflowID", we.GetID()), zap.String("runID", we.GetRunID()))

	var out types.SyncResult
	if err := we.Get(ctx, &out); err != nil {
		return err
	}
	for _, r := range out.Results {
		fmt.Printf("%-10s downloaded=%-5t objects=%d %s\n", r.Name, r.Downloaded, r.Objects, r.LocalPath)
	}
	return nil
}
