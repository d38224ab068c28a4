package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omni-library/handler"
	"omni-library/internal/integrations/gemini"
	"omni-library/internal/integrations/openai"
	"omni-library/internal/integrations/paramstore"
	"omni-library/internal/repository"
	"omni-library/internal/usecase"
)

// backend is what the text and image adapters need from a model provider.
type backend interface {
	usecase.TextBackend
	usecase.ImageBackend
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
}

// run wires the service and blocks serving requests. Returning, rather than
// exiting, lets deferred closers run when a later step fails.
func run(ctx context.Context) error {
	// Local runs keep settings in .env; under Lambda the file is absent.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "err", err)
	}

	// ---- Configuration (read only here) ----
	onLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
	paramPrefix, err := requireEnv("PARAM_PREFIX")
	if err != nil {
		return err
	}
	backendName := envStr("BACKEND", "gemini")
	storeKind := envStr("STORE", defaultStore(onLambda))
	historyWindow := envInt("HISTORY_WINDOW", 6)
	maxCommandLen := envInt("MAX_COMMAND_LENGTH", 500)
	moderate := envBool("MODERATE_COMMANDS", false)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("create SSM client: %w", err)
	}

	var (
		models    usecase.ModelResolver
		moderator usecase.Moderator
		provider  backend
	)
	if text := os.Getenv("TEXT_MODEL"); text != "" {
		models = usecase.StaticModels{Text: text, Image: os.Getenv("IMAGE_MODEL")}
	} else {
		pm, err := usecase.NewParamModels(ssmClient, paramPrefix)
		if err != nil {
			return fmt.Errorf("create model config: %w", err)
		}
		models = pm
	}

	var (
		store usecase.SessionStore
		opts  []usecase.PlayOption
	)
	switch storeKind {
	case "dynamodb":
		table, err := requireEnv("SESSION_TABLE")
		if err != nil {
			return err
		}
		ds, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), table)
		if err != nil {
			return fmt.Errorf("create session store: %w", err)
		}
		store = ds
		opts = append(opts, usecase.WithTurnLease(ds))
	case "sqlite":
		ss, err := repository.OpenSQLite(envStr("SQLITE_PATH", "omni-library.db"))
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer closeQuietly(ss)
		store = ss
	default:
		return fmt.Errorf("unknown store %q", storeKind)
	}

	switch backendName {
	case "gemini":
		gc, err := gemini.NewClient(ssmClient, paramPrefix)
		if err != nil {
			return fmt.Errorf("create Gemini client: %w", err)
		}
		defer closeQuietly(gc)
		provider = gc
	case "openai":
		oc, err := openai.NewClient(ssmClient, paramPrefix)
		if err != nil {
			return fmt.Errorf("create OpenAI client: %w", err)
		}
		provider = oc
		if moderate {
			moderator = oc
		}
	default:
		return fmt.Errorf("unknown backend %q", backendName)
	}

	// ---- Use cases ----
	driver, err := usecase.NewDriver(provider, models, backendName, historyWindow)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	images, err := usecase.NewImageAdapter(provider, models, backendName)
	if err != nil {
		return fmt.Errorf("create image adapter: %w", err)
	}

	if moderator != nil {
		opts = append(opts, usecase.WithModerator(moderator, backendName))
	}
	play, err := usecase.NewPlayService(driver, images, store, maxCommandLen, opts...)
	if err != nil {
		return fmt.Errorf("create play service: %w", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(play)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	if onLambda {
		lambda.Start(h.Handle)
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(usecase.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", h)

	addr := envStr("LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("listening", "addr", addr, "backend", backendName, "store", storeKind)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

func defaultStore(onLambda bool) string {
	if onLambda {
		return "dynamodb"
	}
	return "sqlite"
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "err", err)
	}
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return v, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
