package repository

import (
	"context"
	"strings"

	"gavel/internal/common/db"
	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
)

// NodeRepository defines durable judger node persistence.
type NodeRepository interface {
	Create(ctx context.Context, node *model.JudgerNode) error
	GetByID(ctx context.Context, nodeID string) (*model.JudgerNode, error)
	List(ctx context.Context) ([]*model.JudgerNode, error)
	SetEnabled(ctx context.Context, nodeID string, enabled bool) error
	SoftDelete(ctx context.Context, nodeID string) error
}

// MySQLNodeRepository implements NodeRepository with MySQL.
type MySQLNodeRepository struct {
	db db.Database
}

// NewNodeRepository creates a node repository.
func NewNodeRepository(database db.Database) *MySQLNodeRepository {
	return &MySQLNodeRepository{db: database}
}

const nodeColumns = "node_id, name, secret_hash, max_concurrent, enabled, languages, deleted, created_at, updated_at"

// Create inserts a judger node record.
func (r *MySQLNodeRepository) Create(ctx context.Context, node *model.JudgerNode) error {
	if node == nil {
		return appErr.ValidationError("node", "required")
	}
	if node.ID == "" {
		return appErr.ValidationError("node_id", "required")
	}
	if node.Name == "" {
		return appErr.ValidationError("name", "required")
	}
	if node.SecretHash == "" {
		return appErr.ValidationError("secret_hash", "required")
	}
	if node.MaxConcurrent <= 0 {
		return appErr.ValidationError("max_concurrent", "must be positive")
	}

	query := `
		INSERT INTO judger_nodes
		(node_id, name, secret_hash, max_concurrent, enabled, languages, deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`
	_, err := r.db.Exec(
		ctx,
		query,
		node.ID,
		node.Name,
		node.SecretHash,
		node.MaxConcurrent,
		node.Enabled,
		joinLanguages(node.Languages),
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.New(appErr.NodeNameAlreadyExists).WithDetail("name", node.Name)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert judger node failed")
	}
	return nil
}

// GetByID loads a node by id, including disabled and soft-deleted records so
// callers can distinguish unknown from disabled.
func (r *MySQLNodeRepository) GetByID(ctx context.Context, nodeID string) (*model.JudgerNode, error) {
	if nodeID == "" {
		return nil, appErr.ValidationError("node_id", "required")
	}
	query := `SELECT ` + nodeColumns + ` FROM judger_nodes WHERE node_id = ?`
	node, err := scanNode(r.db.QueryRow(ctx, query, nodeID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.NodeNotFound).WithDetail("node_id", nodeID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query judger node failed")
	}
	return node, nil
}

// List returns all non-deleted nodes.
func (r *MySQLNodeRepository) List(ctx context.Context) ([]*model.JudgerNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM judger_nodes WHERE deleted = 0 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list judger nodes failed")
	}
	defer rows.Close()

	var nodes []*model.JudgerNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan judger node failed")
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate judger nodes failed")
	}
	return nodes, nil
}

// SetEnabled flips the enabled flag.
func (r *MySQLNodeRepository) SetEnabled(ctx context.Context, nodeID string, enabled bool) error {
	query := `UPDATE judger_nodes SET enabled = ?, updated_at = NOW() WHERE node_id = ? AND deleted = 0`
	res, err := r.db.Exec(ctx, query, enabled, nodeID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update judger node failed")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.New(appErr.NodeNotFound).WithDetail("node_id", nodeID)
	}
	return nil
}

// SoftDelete marks the node deleted; the record stays for audit.
func (r *MySQLNodeRepository) SoftDelete(ctx context.Context, nodeID string) error {
	query := `UPDATE judger_nodes SET deleted = 1, enabled = 0, updated_at = NOW() WHERE node_id = ? AND deleted = 0`
	res, err := r.db.Exec(ctx, query, nodeID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "delete judger node failed")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.New(appErr.NodeNotFound).WithDetail("node_id", nodeID)
	}
	return nil
}

func scanNode(row db.Row) (*model.JudgerNode, error) {
	var node model.JudgerNode
	var languages string
	err := row.Scan(
		&node.ID,
		&node.Name,
		&node.SecretHash,
		&node.MaxConcurrent,
		&node.Enabled,
		&languages,
		&node.Deleted,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	node.Languages = splitLanguages(languages)
	return &node, nil
}

func joinLanguages(languages []string) string {
	return strings.Join(languages, ",")
}

func splitLanguages(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	languages := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			languages = append(languages, trimmed)
		}
	}
	return languages
}
