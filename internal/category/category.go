package category

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCategoryNotFound = errors.New("category not found")

type Category struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Node is a category with its children resolved, as returned by BuildTree.
type Node struct {
	Category
	Children []*Node `json:"children"`
}

type Repository interface {
	GetAll(ctx context.Context) ([]Category, error)
	GetBySlug(ctx context.Context, slug string) (*Category, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetAll(ctx context.Context) ([]Category, error) {
	query := `
		SELECT id, name, slug, parent_id, created_at
		FROM categories
		ORDER BY name
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("category: failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("category: failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("category: error iterating categories: %w", err)
	}

	return categories, nil
}

func (r *postgresRepository) GetBySlug(ctx context.Context, slug string) (*Category, error) {
	query := `
		SELECT id, name, slug, parent_id, created_at
		FROM categories
		WHERE slug = $1
	`

	var c Category
	err := r.db.QueryRow(ctx, query, slug).Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("category: failed to select category by slug %s: %w", slug, err)
	}

	return &c, nil
}

// BuildTree assembles the flat parent_id list into a forest. Categories whose
// parent is missing from the input are treated as roots rather than dropped.
func BuildTree(categories []Category) []*Node {
	nodes := make(map[uuid.UUID]*Node, len(categories))
	for _, c := range categories {
		nodes[c.ID] = &Node{Category: c, Children: []*Node{}}
	}

	roots := make([]*Node, 0)
	for _, c := range categories {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	return roots
}

// DisplayNames maps slug to human-readable name for labeling order items
// in notification emails.
func DisplayNames(categories []Category) map[string]string {
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.Slug] = c.Name
	}
	return names
}
