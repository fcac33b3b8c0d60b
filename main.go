package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bloom-graph/src/application"
	"bloom-graph/src/core/nodes"
	"bloom-graph/src/core/taxonomy"
	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure"
	"bloom-graph/src/infrastructure/ai"
	"bloom-graph/src/infrastructure/cache"
	"bloom-graph/src/infrastructure/config"
	"bloom-graph/src/infrastructure/loader"
	"bloom-graph/src/infrastructure/logger"
	"bloom-graph/src/infrastructure/neo4jgraph"
	"bloom-graph/src/infrastructure/pgvector"
)

type flags struct {
	configPath string
	dbPath     string
	action     string
	docPath    string
	text       string
	query      string
	dataset    string
	documentID int64
	chunkID    int64
	level      string
	model      string
	limit      int
	topK       int
	sync       bool
	samples    string
	name       string
}

// Коды завершения
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func parseFlags(args []string) (flags, error) {
	// Определяем флаги командной строки
	var f flags
	fs := flag.NewFlagSet("bloom-graph", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config/config.yaml", "Путь к файлу конфигурации")
	fs.StringVar(&f.dbPath, "db", "", "Путь к файлу базы данных (переопределяет storage.sqlite_path)")
	fs.StringVar(&f.action, "action", "help", "Действие: analyze, index, embed, search, status, annotate, nodes, graph, metrics, rubric, evaluate, levels, demo")
	fs.StringVar(&f.docPath, "doc", "", "Путь или URL документа либо каталога (для index и analyze)")
	fs.StringVar(&f.text, "text", "", "Текст для анализа (для analyze)")
	fs.StringVar(&f.query, "query", "", "Поисковый запрос (для search)")
	fs.StringVar(&f.dataset, "dataset", "default", "Имя набора данных; для search пустое имя означает все наборы")
	fs.Int64Var(&f.documentID, "document", 0, "ID документа (для nodes и graph)")
	fs.Int64Var(&f.chunkID, "chunk", 0, "ID фрагмента (для metrics)")
	fs.StringVar(&f.level, "level", "", "Уровень таксономии (для annotate и rubric)")
	fs.StringVar(&f.model, "model", "", "Модель эмбеддингов для фильтра графа")
	fs.IntVar(&f.limit, "limit", application.DefaultLimitNodes, "Ограничение числа узлов графа")
	fs.IntVar(&f.topK, "topk", application.DefaultTopK, "Число результатов поиска")
	fs.BoolVar(&f.sync, "sync", false, "Выгрузить граф в Neo4j")
	fs.StringVar(&f.samples, "samples", "", "JSONL выборка для evaluate")
	fs.StringVar(&f.name, "name", "", "Название рубрики (для rubric)")
	err := fs.Parse(args)
	return f, err
}

// run выполняет действие и возвращает код завершения.
// Ресурсы закрываются отложенными вызовами до возврата, os.Exit вызывает только main.
func run(args []string) int {
	f, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitUsage
	}

	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		log.Printf("Ошибка загрузки конфигурации: %v", err)
		return exitError
	}
	if f.dbPath != "" {
		cfg.Storage.SQLitePath = f.dbPath
	}

	appLog, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		log.Printf("Ошибка инициализации логгера: %v", err)
		return exitError
	}
	defer appLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scorer, err := newScorer(cfg.Classifier.KeywordsPath)
	if err != nil {
		appLog.Error("ошибка загрузки ключевых слов", "error", err)
		return exitError
	}

	// analyze, evaluate и levels работают без хранилища
	switch f.action {
	case "analyze":
		err = handleAnalyze(cfg, scorer, f)
	case "evaluate":
		err = handleEvaluate(cfg, scorer, f.samples)
	case "levels":
		err = printJSON(taxonomy.Catalog())
	case "index", "embed", "search", "status", "annotate", "nodes", "graph", "metrics", "rubric", "demo":
		err = runWithStorage(ctx, cfg, scorer, appLog, f)
	case "help":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitUsage
	}
	if err != nil {
		appLog.Error("ошибка выполнения действия", "action", f.action, "error", err)
		return exitError
	}
	return exitOK
}

func runWithStorage(ctx context.Context, cfg config.Config, scorer *taxonomy.Scorer, appLog *logger.Logger, f flags) error {
	app, err := newApp(ctx, cfg, scorer, appLog)
	if err != nil {
		return fmt.Errorf("ошибка инициализации: %w", err)
	}
	defer app.Close()
	return app.run(ctx, f)
}

func printUsage() {
	fmt.Println("Анализ текстов по таксономии Блума. Используйте флаги для выполнения действий:")
	fmt.Println("  -action=analyze -text='...'                       # Разметить текст без сохранения")
	fmt.Println("  -action=index -doc=path/to/doc.txt -dataset=name  # Индексировать документ или каталог")
	fmt.Println("  -action=embed -dataset=name                       # Вычислить эмбеддинги фрагментов набора")
	fmt.Println("  -action=search -query='...' [-dataset=name]       # Семантический поиск фрагментов")
	fmt.Println("  -action=status -dataset=name                      # Счетчики набора и последняя задача")
	fmt.Println("  -action=annotate -dataset=name -level=apply       # Аннотировать фрагменты набора")
	fmt.Println("  -action=nodes -dataset=name [-document=ID]        # Выделить узлы знаний")
	fmt.Println("  -action=graph -dataset=name [-sync]               # Построить граф знаний")
	fmt.Println("  -action=metrics -dataset=name [-chunk=ID]         # Метрики качества аннотаций")
	fmt.Println("  -action=rubric -level=apply -name=v2 -text='...'  # Сохранить рубрику уровня")
	fmt.Println("  -action=evaluate -samples=gold.jsonl              # Оценить эвристику на выборке")
	fmt.Println("  -action=levels                                    # Показать уровни таксономии")
	fmt.Println("  -action=demo                                      # Запустить демо-сессию")
}

func newScorer(keywordsPath string) (*taxonomy.Scorer, error) {
	if keywordsPath == "" {
		return taxonomy.NewScorer(nil), nil
	}
	if _, err := os.Stat(keywordsPath); os.IsNotExist(err) {
		return taxonomy.NewScorer(nil), nil
	}
	table, err := taxonomy.LoadKeywords(keywordsPath)
	if err != nil {
		return nil, err
	}
	return taxonomy.NewScorer(table), nil
}

func options(cfg config.Config) application.Options {
	return application.Options{
		ChunkMinLen: cfg.Chunking.MinLen,
		MinProb:     cfg.Taxonomy.MinProb,
		MaxLevels:   cfg.Taxonomy.MaxLevels,
		MaxNodes:    cfg.Nodes.MaxNodes,
		MinFreq:     cfg.Nodes.MinFreq,
		Concurrency: cfg.Classifier.Concurrency,
		Graph:       cfg.Graph,
		Sequence:    cfg.Sequence,
	}
}

// app связывает сервис с внешними ресурсами, которые нужно закрыть
type app struct {
	service *application.BloomService
	repo    *infrastructure.SQLiteRepository
	loader  *loader.Loader
	cache   *cache.RedisEmbeddingCache
	vectors *pgvector.Store
	sink    *neo4jgraph.Sink
	log     *logger.Logger
}

func newApp(ctx context.Context, cfg config.Config, scorer *taxonomy.Scorer, appLog *logger.Logger) (*app, error) {
	a := &app{loader: loader.New(), log: appLog}

	repo, err := infrastructure.NewSQLiteRepository(cfg.Storage.SQLitePath, appLog)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации репозитория: %w", err)
	}
	a.repo = repo

	classifier, err := newClassifier(cfg, appLog)
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache, err = cache.NewRedisEmbeddingCache(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	if a.cache != nil {
		embedder = cache.NewCachedEmbedder(embedder, a.cache, cfg.Redis.Prefix, appLog)
	}

	deps := application.Deps{
		Documents:   repo,
		Annotations: repo,
		Nodes:       repo,
		Rubrics:     repo,
		Jobs:        repo,
		Chunks:      repo,
		Status:      repo,
		Classifier:  classifier,
		Embedder:    embedder,
		Scorer:      scorer,
		Extractor:   nodes.NewExtractor(nil),
		Log:         appLog,
	}

	if cfg.Storage.PostgresDSN != "" {
		a.vectors, err = pgvector.New(ctx, cfg.Storage.PostgresDSN, appLog)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
		}
		if err := a.vectors.EnsureSchema(ctx, embedder.Dim()); err != nil {
			a.Close()
			return nil, err
		}
		deps.Vectors = a.vectors
		deps.ChunkIndex = a.vectors
	}

	a.sink, err = neo4jgraph.New(ctx, cfg.Neo4j, appLog)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка подключения к Neo4j: %w", err)
	}
	if a.sink != nil {
		deps.Sink = a.sink
	}

	a.service = application.NewBloomService(deps, options(cfg))
	return a, nil
}

func newClassifier(cfg config.Config, appLog *logger.Logger) (domain.Classifier, error) {
	var primary domain.Classifier
	if cfg.Classifier.Provider == ai.ProviderName {
		client, err := ai.NewClient(cfg.AI, appLog)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации AI клиента: %w", err)
		}
		primary = client
	}
	backoff := time.Duration(cfg.Classifier.BackoffMillis) * time.Millisecond
	return application.NewResilientClassifier(primary, nil, cfg.Classifier.MaxRetries, backoff, appLog), nil
}

func newEmbedder(cfg config.Config) (domain.Embedder, error) {
	if cfg.Embedding.Provider == "openai" {
		return ai.NewOpenAIEmbedder(cfg.AI, cfg.Embedding)
	}
	return ai.NewHashEmbedder(cfg.Embedding.Model, cfg.Embedding.Dim)
}

// Close освобождает подключения
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.log.Warn("ошибка закрытия Neo4j", "error", err)
		}
	}
	if a.vectors != nil {
		a.vectors.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

func (a *app) run(ctx context.Context, f flags) error {
	switch f.action {
	case "index":
		if f.docPath == "" {
			return fmt.Errorf("для действия 'index' требуется указать путь к документу (-doc)")
		}
		return a.handleIndex(ctx, f.dataset, f.docPath)
	case "embed":
		ds, err := a.repo.CreateDataset(ctx, f.dataset)
		if err != nil {
			return err
		}
		report, err := a.service.IndexEmbeddings(ctx, ds.ID)
		if err != nil {
			return err
		}
		return printJSON(report)
	case "search":
		var datasetID *int64
		if strings.TrimSpace(f.dataset) != "" {
			ds, err := a.repo.CreateDataset(ctx, f.dataset)
			if err != nil {
				return err
			}
			datasetID = &ds.ID
		}
		hits, err := a.service.SearchChunks(ctx, f.query, datasetID, f.topK)
		if err != nil {
			return err
		}
		return printJSON(hits)
	case "status":
		ds, err := a.repo.CreateDataset(ctx, f.dataset)
		if err != nil {
			return err
		}
		st, err := a.service.DatasetStatus(ctx, ds.ID)
		if err != nil {
			return err
		}
		return printJSON(st)
	case "annotate":
		level, err := domain.ParseLevel(f.level)
		if err != nil {
			return err
		}
		ds, err := a.repo.CreateDataset(ctx, f.dataset)
		if err != nil {
			return err
		}
		report, err := a.service.AnnotateDataset(ctx, ds.ID, level)
		if err != nil {
			return err
		}
		return printJSON(report)
	case "nodes":
		ds, err := a.repo.CreateDataset(ctx, f.dataset)
		if err != nil {
			return err
		}
		report, err := a.service.ExtractNodes(ctx, ds.ID, optionalID(f.documentID))
		if err != nil {
			return err
		}
		fmt.Printf("Выделено узлов: %d, векторов во внешнем индексе: %d\n", len(report.Nodes), report.Vectors)
		return nil
	case "graph":
		ds, err := a.repo.CreateDataset(ctx, f.dataset)
		if err != nil {
			return err
		}
		req := application.GraphRequest{
			DatasetID:  &ds.ID,
			DocumentID: optionalID(f.documentID),
			LimitNodes: f.limit,
			Sync:       f.sync,
		}
		if f.model != "" {
			req.EmbeddingModel = &f.model
		}
		g, err := a.service.BuildGraph(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(g)
	case "metrics":
		if f.chunkID > 0 {
			m, err := a.service.ChunkConsistency(ctx, f.chunkID)
			if err != nil {
				return err
			}
			return printJSON(m)
		}
		ds, err := a.repo.CreateDataset(ctx, f.dataset)
		if err != nil {
			return err
		}
		q, err := a.service.DatasetQuality(ctx, ds.ID)
		if err != nil {
			return err
		}
		return printJSON(q)
	case "rubric":
		level, err := domain.ParseLevel(f.level)
		if err != nil {
			return err
		}
		r, err := a.service.SetRubric(ctx, level, f.name, f.text)
		if err != nil {
			return err
		}
		return printJSON(r)
	case "demo":
		return a.runDemo(ctx)
	}
	return nil
}

// handleIndex индексирует документ или все текстовые файлы каталога
func (a *app) handleIndex(ctx context.Context, datasetName, location string) error {
	ds, err := a.repo.CreateDataset(ctx, datasetName)
	if err != nil {
		return err
	}

	var docs []domain.Document
	if info, statErr := os.Stat(location); statErr == nil && info.IsDir() {
		docs, err = a.loader.LoadDir(ctx, location)
	} else {
		var doc domain.Document
		doc, err = a.loader.Load(ctx, location)
		docs = []domain.Document{doc}
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения документа: %w", err)
	}

	for _, doc := range docs {
		doc.DatasetID = ds.ID
		fmt.Printf("Индексируем документ: %s...\n", doc.Source)
		saved, chunks, err := a.service.IndexDocument(ctx, doc)
		if err != nil {
			return err
		}
		fmt.Printf("Документ %d проиндексирован, фрагментов: %d\n", saved.ID, chunks)
	}
	return nil
}

// handleAnalyze размечает текст или файл без сохранения
func handleAnalyze(cfg config.Config, scorer *taxonomy.Scorer, f flags) error {
	text := f.text
	if text == "" && f.docPath != "" {
		doc, err := loader.New().Load(context.Background(), f.docPath)
		if err != nil {
			return err
		}
		text = doc.Content
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("для действия 'analyze' требуется текст (-text) или документ (-doc)")
	}
	service := application.NewBloomService(application.Deps{Scorer: scorer}, options(cfg))
	return printJSON(service.Analyze(text))
}

// handleEvaluate считает метрики эвристики на размеченной выборке
func handleEvaluate(cfg config.Config, scorer *taxonomy.Scorer, path string) error {
	if path == "" {
		return fmt.Errorf("для действия 'evaluate' требуется выборка (-samples)")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ошибка открытия выборки: %w", err)
	}
	defer file.Close()

	samples, err := taxonomy.LoadSamples(file)
	if err != nil {
		return err
	}
	return printJSON(taxonomy.Evaluate(samples, scorer, cfg.Taxonomy.MinProb, cfg.Taxonomy.MaxLevels))
}

// runDemo индексирует учебные тексты и проходит весь конвейер
func (a *app) runDemo(ctx context.Context) error {
	fmt.Println("=== Демонстрация анализа по таксономии Блума ===")

	ds, err := a.repo.CreateDataset(ctx, "demo")
	if err != nil {
		return err
	}
	existing, err := a.repo.ListDocuments(ctx, ds.ID)
	if err != nil {
		fmt.Printf("Предупреждение: не удалось получить существующие документы: %v\n", err)
	}

	if len(existing) == 0 {
		docs := []domain.Document{
			{
				Title:   "Фотосинтез",
				Content: "Перечислите основные этапы фотосинтеза. Объясните, почему Хлорофилл поглощает свет. Сравните световую и темновую фазы и найдите различия между ними.",
			},
			{
				Title:   "Закон Ома",
				Content: "Вычислите силу тока по закону Ома для участка цепи. Оцените, насколько точны измерения Амперметра. Разработайте собственную схему эксперимента для проверки закона.",
			},
		}
		fmt.Println("Индексируем учебные тексты...")
		for _, doc := range docs {
			doc.DatasetID = ds.ID
			doc.Source = "demo"
			if _, _, err := a.service.IndexDocument(ctx, doc); err != nil {
				return fmt.Errorf("ошибка индексации документа %s: %w", doc.Title, err)
			}
		}
	} else {
		fmt.Printf("Набор данных уже содержит %d документов\n", len(existing))
	}

	for _, level := range []domain.Level{domain.LevelRemember, domain.LevelAnalyze} {
		report, err := a.service.AnnotateDataset(ctx, ds.ID, level)
		if err != nil {
			return err
		}
		fmt.Printf("Уровень %s: аннотировано %d из %d фрагментов\n", level, report.Written, report.Total)
	}

	extracted, err := a.service.ExtractNodes(ctx, ds.ID, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Выделено узлов знаний: %d\n", len(extracted.Nodes))

	embedded, err := a.service.IndexEmbeddings(ctx, ds.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Эмбеддингов фрагментов: %d (%s)\n", embedded.Vectors, embedded.Model)
	hits, err := a.service.SearchChunks(ctx, "закон Ома для участка цепи", &ds.ID, 2)
	if err != nil {
		return err
	}
	for _, h := range hits {
		fmt.Printf("  [%.4f] %s: %s\n", h.Score, h.DocumentTitle, h.Text)
	}

	g, err := a.service.BuildGraph(ctx, application.GraphRequest{DatasetID: &ds.ID, Sync: a.sink != nil})
	if err != nil {
		return err
	}
	fmt.Printf("Граф: %d узлов, %d ребер\n", len(g.Nodes), len(g.Edges))
	for i, e := range g.Edges {
		if i == 10 {
			fmt.Println("  ...")
			break
		}
		fmt.Printf("  %d -> %d [%s %.4f]\n", e.Source, e.Target, e.Method, e.Weight)
	}

	q, err := a.service.DatasetQuality(ctx, ds.ID)
	if err != nil {
		return err
	}
	return printJSON(q)
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации результата: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
