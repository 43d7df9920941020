// Package validate holds the request validation rules for generation, edit and
// user payloads. All functions are pure.
package validate

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	PromptMinLength   = 3
	PromptMaxLength   = 1000
	MinImages         = 1
	MaxImages         = 4
	UsernameMinLength = 3
	UsernameMaxLength = 20
	PasswordMinLength = 8
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)
)

// Result 校验结果，Errors 为字段到错误信息的映射
type Result struct {
	Errors map[string]string
	order  []string
}

func (r *Result) add(field, message string) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	if _, exists := r.Errors[field]; exists {
		return
	}
	r.Errors[field] = message
	r.order = append(r.order, field)
}

func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// First returns the first violated field in check order.
func (r Result) First() (field, message string) {
	if len(r.order) == 0 {
		return "", ""
	}
	field = r.order[0]
	return field, r.Errors[field]
}

// Catalog is the set of accepted models and sizes.
type Catalog struct {
	Models     []string
	EditModels []string
	Sizes      []string
}

// GenerationParams mirrors the generate payload before defaults are applied.
// Empty strings mean the field was absent.
type GenerationParams struct {
	Prompt string
	Model  string
	N      string
	Size   string
}

// Generation checks a generate payload. Absent model, n and size are accepted.
func Generation(p GenerationParams, catalog Catalog) Result {
	var res Result

	if strings.TrimSpace(p.Prompt) == "" {
		res.add("prompt", "Prompt is required")
	} else if n := utf8.RuneCountInString(p.Prompt); n < PromptMinLength {
		res.add("prompt", "Prompt must be at least 3 characters")
	} else if n > PromptMaxLength {
		res.add("prompt", "Prompt cannot exceed 1000 characters")
	}

	if p.Model != "" && !slices.Contains(catalog.Models, p.Model) {
		res.add("model", "Invalid model. Supported models: "+strings.Join(catalog.Models, ", "))
	}

	if strings.TrimSpace(p.N) != "" {
		if _, ok := ParseImageCount(p.N); !ok {
			res.add("n", "Number of images must be between 1 and 4")
		}
	}

	if p.Size != "" && !slices.Contains(catalog.Sizes, p.Size) {
		res.add("size", "Invalid size. Supported sizes: "+strings.Join(catalog.Sizes, ", "))
	}

	return res
}

// ParseImageCount parses n and reports whether it is an integer within [1,4].
// Integral JSON numbers such as 2.0 count as integers; 2.5 or "2abc" do not.
func ParseImageCount(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) || f < MinImages || f > MaxImages {
			return 0, false
		}
		n = int(f)
	}
	if n < MinImages || n > MaxImages {
		return 0, false
	}
	return n, true
}

type EditParams struct {
	Prompt      string
	Model       string
	Size        string
	HasImage    bool
	ContentType string
	ImageSize   int64
}

// Edit validates an edit upload. maxBytes <= 0 disables the size check.
func Edit(p EditParams, catalog Catalog, maxBytes int64) Result {
	var res Result

	if !p.HasImage {
		res.add("image", "No image file uploaded")
	} else if ct := strings.ToLower(strings.TrimSpace(p.ContentType)); ct != "" && !strings.HasPrefix(ct, "image/") {
		res.add("image", "Only image files are allowed")
	} else if maxBytes > 0 && p.ImageSize > maxBytes {
		res.add("image", "Image file is too large")
	}

	if strings.TrimSpace(p.Prompt) == "" {
		res.add("prompt", "Prompt is required")
	}

	if p.Model != "" && !slices.Contains(catalog.EditModels, p.Model) {
		res.add("model", "Invalid model. Available models: "+strings.Join(catalog.EditModels, ", "))
	}

	if p.Size != "" && !slices.Contains(catalog.Sizes, p.Size) {
		res.add("size", "Invalid size. Supported sizes: "+strings.Join(catalog.Sizes, ", "))
	}

	return res
}

// UserParams uses nil for absent fields so partial updates only check what was sent.
type UserParams struct {
	Username *string
	Email    *string
	Password *string
}

func User(p UserParams) Result {
	var res Result

	if p.Username != nil {
		username := strings.TrimSpace(*p.Username)
		switch {
		case username == "":
			res.add("username", "Username is required")
		case utf8.RuneCountInString(username) < UsernameMinLength:
			res.add("username", "Username must be at least 3 characters")
		case utf8.RuneCountInString(username) > UsernameMaxLength:
			res.add("username", "Username cannot exceed 20 characters")
		case !usernamePattern.MatchString(username):
			res.add("username", "Username can only contain letters, numbers, and underscores")
		}
	}

	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if email == "" {
			res.add("email", "Email is required")
		} else if !emailPattern.MatchString(email) {
			res.add("email", "Please provide a valid email")
		}
	}

	if p.Password != nil {
		password := *p.Password
		switch {
		case password == "":
			res.add("password", "Password is required")
		case utf8.RuneCountInString(password) < PasswordMinLength:
			res.add("password", "Password must be at least 8 characters")
		case !hasLetterAndDigit(password):
			res.add("password", "Password must contain at least one letter and one number")
		}
	}

	return res
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			letter = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}
