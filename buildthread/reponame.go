package buildthread

import (
	"fmt"
	"strings"
)

// ExtractRepoName derives a repository name from a git URL: the
// substring after the last "/", with a trailing ".git" suffix stripped.
// A trailing "/" (empty remainder) is an error, per §4.3/§8.
func ExtractRepoName(gitURL string) (string, error) {
	idx := strings.LastIndex(gitURL, "/")
	name := gitURL
	if idx >= 0 {
		name = gitURL[idx+1:]
	}
	if name == "" {
		return "", fmt.Errorf("extract repo name from %q: empty remainder after last /", gitURL)
	}
	name = strings.TrimSuffix(name, ".git")
	if name == "" {
		return "", fmt.Errorf("extract repo name from %q: empty remainder after stripping .git", gitURL)
	}
	return name, nil
}
