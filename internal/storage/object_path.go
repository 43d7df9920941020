package storage

import (
	"mime"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	defaultCategory  = "misc"
	defaultExtension = "bin"
)

// keySafe 只保留小写字母、数字、'-' 和 '_'
func keySafe(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z':
		return unicode.ToLower(r)
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		return r
	}
	return -1
}

// SanitizeToken lowercases value and drops everything but ASCII letters, digits, '-' and '_'.
func SanitizeToken(value string) string {
	return strings.Map(keySafe, strings.TrimSpace(value))
}

func fileBase(value string) string {
	value = strings.Join(strings.Fields(value), "-")
	return strings.Trim(SanitizeToken(value), "-_")
}

func extensionOf(ext string) string {
	ext = SanitizeToken(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return defaultExtension
	}
	return ext
}

// buildObjectPath 生成 category/yyyy/mm/dd/base.ext；内容寻址的对象不带日期目录，保证键稳定
func buildObjectPath(opts SaveOptions, now time.Time) string {
	now = now.UTC()
	category := SanitizeToken(opts.Category)
	if category == "" {
		category = defaultCategory
	}
	base := fileBase(opts.BaseName)
	if base == "" {
		base = strconv.FormatInt(now.UnixNano(), 10)
	}
	name := base + "." + extensionOf(opts.Extension)

	if opts.SkipIfExists && strings.TrimSpace(opts.BaseName) != "" {
		return path.Join(category, name)
	}
	return path.Join(category, now.Format("2006/01/02"), name)
}

func detectContentType(ext string) string {
	if typeName := mime.TypeByExtension("." + extensionOf(ext)); typeName != "" {
		return typeName
	}
	return "application/octet-stream"
}

func trimPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

// joinPrefix 在对象键前加上桶内前缀
func joinPrefix(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if prefix = trimPrefix(prefix); prefix != "" {
		return prefix + "/" + key
	}
	return key
}
