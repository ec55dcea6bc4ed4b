package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Category is one node of the sink platform's two-level category tree,
// loaded from acfunid/id_mapping.json.
type Category struct {
	ParentName  string     `json:"parent_name,omitempty"`
	CategoryID  string     `json:"category_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Sub         []Category `json:"sub,omitempty"`
}

// Catalog is the full category tree with a flat index for validation.
type Catalog struct {
	Roots []Category
	byID  map[string]Category
}

// LoadCatalog reads the category mapping file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category catalog: %w", err)
	}
	var roots []Category
	if err := json.Unmarshal(data, &roots); err != nil {
		return nil, fmt.Errorf("parsing category catalog: %w", err)
	}
	return NewCatalog(roots), nil
}

// NewCatalog builds a Catalog from parsed roots.
func NewCatalog(roots []Category) *Catalog {
	c := &Catalog{Roots: roots, byID: map[string]Category{}}
	for _, r := range roots {
		c.byID[r.CategoryID] = r
		for _, s := range r.Sub {
			if s.ParentName == "" {
				s.ParentName = r.Name
			}
			c.byID[s.CategoryID] = s
		}
	}
	return c
}

// Valid reports whether the ID exists in the catalog.
func (c *Catalog) Valid(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// FindByName returns the first category whose name matches exactly.
func (c *Catalog) FindByName(name string) (Category, bool) {
	for _, r := range c.Roots {
		if r.Name == name {
			return r, true
		}
		for _, s := range r.Sub {
			if s.Name == name {
				return s, true
			}
		}
	}
	return Category{}, false
}

// ruleFamily maps a fixed keyword family to preferred category names.
type ruleFamily struct {
	keywords      []string
	categoryNames []string
}

// ruleFamilies is the deterministic pre-router. Matching is substring-based
// over the lowercased title and description.
var ruleFamilies = []ruleFamily{
	{
		keywords:      []string{"music", " mv", "song", "cover", "remix", "concert", "音乐", "歌曲", "翻唱", "演唱会", "作曲"},
		categoryNames: []string{"音乐", "翻唱", "原创·翻唱"},
	},
	{
		keywords:      []string{"dance", "choreograph", "舞蹈", "跳舞", "宅舞"},
		categoryNames: []string{"舞蹈", "舞蹈·偶像"},
	},
	{
		keywords:      []string{"trailer", "teaser", "behind the scenes", "making of", "预告", "花絮", "幕后"},
		categoryNames: []string{"预告·资讯", "影视"},
	},
	{
		keywords:      []string{"gameplay", "game", "gaming", "speedrun", "游戏", "实况", "攻略", "电竞"},
		categoryNames: []string{"游戏", "单机游戏"},
	},
	{
		keywords:      []string{"unboxing", "review", "benchmark", "tech", "数码", "评测", "开箱", "装机"},
		categoryNames: []string{"科技", "数码", "趣味科普人文"},
	},
	{
		keywords:      []string{"vlog", "daily", "routine", "日常", "生活", "记录"},
		categoryNames: []string{"生活", "日常"},
	},
}

// RouteByRules runs the keyword pre-router. Returns the category ID when a
// family matched and its category exists in the catalog.
func (c *Catalog) RouteByRules(title, description string) (string, bool) {
	text := strings.ToLower(title + " " + description)
	for _, fam := range ruleFamilies {
		matched := false
		for _, kw := range fam.keywords {
			if strings.Contains(text, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for _, name := range fam.categoryNames {
			if cat, ok := c.FindByName(name); ok {
				return cat.CategoryID, true
			}
		}
	}
	return "", false
}

const classifyPrompt = `根据视频标题和简介,从下面的分区列表中选出最合适的一个分区。` +
	`输出JSON对象 {"category_id": "..."}。只输出JSON。

分区列表:
%s`

// ClassifyCategory picks a category for the video. The rule router runs
// first; the LLM handles the remainder and its answer is validated against
// the catalog, falling back to the rules once more before giving up.
func (c *Client) ClassifyCategory(ctx context.Context, title, description string, catalog *Catalog) (string, bool) {
	if id, ok := catalog.RouteByRules(title, description); ok {
		return id, true
	}

	user := fmt.Sprintf("标题: %s\n简介: %s", title, TruncateChars(description, 500, "…"))
	raw, err := c.CompleteJSON(ctx, fmt.Sprintf(classifyPrompt, catalogSummary(catalog)), user)
	if err != nil {
		c.logger.Warn("category classification failed", "error", err)
		return "", false
	}
	var resp struct {
		CategoryID string `json:"category_id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("unexpected classification payload", "error", err)
		return "", false
	}
	if catalog.Valid(resp.CategoryID) {
		return resp.CategoryID, true
	}

	c.logger.Warn("model returned unknown category", "category_id", resp.CategoryID)
	return catalog.RouteByRules(title, description)
}

// catalogSummary flattens the tree into "id name (parent): description" lines.
func catalogSummary(catalog *Catalog) string {
	var b strings.Builder
	for _, r := range catalog.Roots {
		fmt.Fprintf(&b, "%s %s: %s\n", r.CategoryID, r.Name, r.Description)
		for _, s := range r.Sub {
			fmt.Fprintf(&b, "%s %s (%s): %s\n", s.CategoryID, s.Name, r.Name, s.Description)
		}
	}
	return b.String()
}
