package signature

import (
	"path"
	"regexp"
	"strings"
)

// Matcher 特征匹配器抽象
// 三种实现: 子串匹配 / 路径glob / 符号正则
// 新增特征种类只需新增实现，分类器控制流不变
type Matcher interface {
	// Match 判断输入是否命中特征
	Match(s string) bool
	// Pattern 返回原始特征模式 (用于证据记录)
	Pattern() string
}

// substringMatcher 子串匹配 (大小写不敏感)
type substringMatcher struct {
	pattern string
	lower   string
}

// NewSubstring 创建子串匹配器
func NewSubstring(pattern string) Matcher {
	return &substringMatcher{
		pattern: pattern,
		lower:   strings.ToLower(pattern),
	}
}

func (m *substringMatcher) Match(s string) bool {
	return strings.Contains(strings.ToLower(s), m.lower)
}

func (m *substringMatcher) Pattern() string {
	return m.pattern
}

// globMatcher 路径glob匹配
type globMatcher struct {
	pattern string
}

// NewPathGlob 创建路径glob匹配器
// 非法模式返回错误，由上层跳过该特征
func NewPathGlob(pattern string) (Matcher, error) {
	// path.Match 在匹配时才报告非法模式，这里提前校验
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	return &globMatcher{pattern: pattern}, nil
}

func (m *globMatcher) Match(s string) bool {
	ok, err := path.Match(m.pattern, s)
	if err != nil {
		return false
	}
	return ok
}

func (m *globMatcher) Pattern() string {
	return m.pattern
}

// regexMatcher 符号正则匹配
type regexMatcher struct {
	pattern string
	re      *regexp.Regexp
}

// NewSymbolRegex 创建符号正则匹配器
// 非法正则返回错误，由上层跳过该特征
func NewSymbolRegex(pattern string) (Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &regexMatcher{pattern: pattern, re: re}, nil
}

func (m *regexMatcher) Match(s string) bool {
	return m.re.MatchString(s)
}

func (m *regexMatcher) Pattern() string {
	return m.pattern
}
