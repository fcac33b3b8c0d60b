package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/logger"
)

// SQLiteRepository реализация хранилищ документов, аннотаций, узлов, рубрик и задач на SQLite
type SQLiteRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewSQLiteRepository открывает базу данных и инициализирует схему
func NewSQLiteRepository(dbPath string, log *logger.Logger) (*SQLiteRepository, error) {
	if log == nil {
		log = logger.NewNop()
	}
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	}
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}
	// SQLite допускает одного писателя
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{db: db, log: log}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось инициализировать схему: %w", err)
	}
	return repo, nil
}

// initSchema инициализирует схему базы данных
func (r *SQLiteRepository) initSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			text TEXT NOT NULL,
			FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS rubrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// одна аннотация на пару (chunk, level); повторная запись увеличивает версию
		`CREATE TABLE IF NOT EXISTS annotations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_id INTEGER NOT NULL,
			level TEXT NOT NULL,
			label TEXT NOT NULL,
			rationale TEXT NOT NULL,
			score REAL NOT NULL,
			rubric_id INTEGER,
			version INTEGER NOT NULL DEFAULT 1,
			provider TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(chunk_id, level),
			FOREIGN KEY(chunk_id) REFERENCES chunks(id) ON DELETE CASCADE,
			FOREIGN KEY(rubric_id) REFERENCES rubrics(id) ON DELETE SET NULL
		)`,

		`CREATE TABLE IF NOT EXISTS knowledge_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id INTEGER NOT NULL,
			document_id INTEGER,
			doc_key INTEGER NOT NULL DEFAULT 0,
			chunk_id INTEGER,
			title TEXT NOT NULL,
			title_key TEXT NOT NULL,
			context_text TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 0,
			node_type TEXT NOT NULL,
			prob_vector TEXT NOT NULL DEFAULT '{}',
			top_levels TEXT NOT NULL DEFAULT '[]',
			embedding TEXT,
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_dim INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			UNIQUE(dataset_id, doc_key, title_key),
			FOREIGN KEY(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id INTEGER NOT NULL,
			model TEXT NOT NULL,
			dim INTEGER NOT NULL,
			vec TEXT NOT NULL,
			PRIMARY KEY(chunk_id, model),
			FOREIGN KEY(chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
		)`,

		// dataset_id дублирует payload для выборки последней задачи набора
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			dataset_id INTEGER,
			status TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, idx)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_dataset ON documents(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_dataset ON knowledge_nodes(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_dataset ON jobs(dataset_id, created_at)`,
	}

	for _, tableSQL := range tables {
		if _, err := r.db.Exec(tableSQL); err != nil {
			r.log.Error("ошибка выполнения SQL", "sql", tableSQL, "error", err)
			return fmt.Errorf("ошибка при создании таблицы: %w", err)
		}
	}
	return nil
}

// CreateDataset создает набор данных или возвращает существующий
func (r *SQLiteRepository) CreateDataset(ctx context.Context, name string) (domain.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Dataset{}, domain.NewValidationError("пустое имя набора данных")
	}
	if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO datasets (name) VALUES (?)`, name); err != nil {
		return domain.Dataset{}, fmt.Errorf("не удалось создать набор данных: %w", err)
	}
	var ds domain.Dataset
	if err := r.db.GetContext(ctx, &ds, `SELECT id, name, created_at FROM datasets WHERE name = ?`, name); err != nil {
		return domain.Dataset{}, fmt.Errorf("не удалось прочитать набор данных: %w", err)
	}
	return ds, nil
}

// SaveDocument сохраняет документ и его фрагменты в одной транзакции
func (r *SQLiteRepository) SaveDocument(ctx context.Context, doc domain.Document, chunks []string) (domain.Document, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (dataset_id, title, source, content) VALUES (?, ?, ?, ?)`,
		doc.DatasetID, doc.Title, doc.Source, doc.Content)
	if err != nil {
		return domain.Document{}, fmt.Errorf("не удалось вставить документ: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return domain.Document{}, fmt.Errorf("не удалось получить ID документа: %w", err)
	}

	chunkStmt, err := tx.PreparexContext(ctx, `INSERT INTO chunks (document_id, idx, text) VALUES (?, ?, ?)`)
	if err != nil {
		return domain.Document{}, fmt.Errorf("не удалось подготовить SQL для фрагмента: %w", err)
	}
	defer chunkStmt.Close()

	for i, text := range chunks {
		if _, err := chunkStmt.ExecContext(ctx, docID, i, text); err != nil {
			return domain.Document{}, fmt.Errorf("не удалось вставить фрагмент %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Document{}, fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}
	return r.GetDocument(ctx, docID)
}

// GetDocument возвращает документ по ID
func (r *SQLiteRepository) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	var doc domain.Document
	err := r.db.GetContext(ctx, &doc,
		`SELECT id, dataset_id, title, source, content, created_at FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("документ %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return doc, nil
}

// ListDocuments возвращает документы набора
func (r *SQLiteRepository) ListDocuments(ctx context.Context, datasetID int64) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.db.SelectContext(ctx, &docs,
		`SELECT id, dataset_id, title, source, content, created_at FROM documents WHERE dataset_id = ? ORDER BY id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return docs, nil
}

// ListChunks возвращает фрагменты набора в порядке документов и индексов
func (r *SQLiteRepository) ListChunks(ctx context.Context, datasetID int64) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := r.db.SelectContext(ctx, &chunks, `
		SELECT c.id, c.document_id, c.idx, c.text
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.dataset_id = ?
		ORDER BY c.document_id, c.idx`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return chunks, nil
}

// DeleteDocument удаляет документ, его фрагменты и аннотации
func (r *SQLiteRepository) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM annotations WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
		return fmt.Errorf("ошибка удаления аннотаций: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
		return fmt.Errorf("ошибка удаления векторов фрагментов: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("ошибка удаления фрагментов: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE knowledge_nodes SET document_id = NULL WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("ошибка отвязки узлов: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("документ %d: %w", id, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
