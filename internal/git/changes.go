package git

import (
	"os/exec"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Info describes the repository state a pipeline is published from.
type Info struct {
	Commit string
	Branch string
	Remote string
	Dirty  bool
	// Prefix is the detector directory relative to the repository root.
	Prefix string
	// Changed lists uncommitted files relative to the repository root.
	Changed []string
}

// Properties returns the run properties recorded on the published pipeline.
func (i *Info) Properties() map[string]string {
	if i == nil {
		return nil
	}
	props := map[string]string{
		"azureml.git.commit": i.Commit,
		"azureml.git.dirty":  strconv.FormatBool(i.Dirty),
	}
	if i.Branch != "" {
		props["azureml.git.branch"] = i.Branch
	}
	if i.Remote != "" {
		props["azureml.git.repository_uri"] = i.Remote
	}
	return props
}

// ChangeDetector inspects the working tree of a repository
type ChangeDetector struct {
	dir string // repository working directory; empty means the process cwd
}

// NewChangeDetector creates a new change detector
func NewChangeDetector(dir string) *ChangeDetector {
	return &ChangeDetector{dir: dir}
}

func (cd *ChangeDetector) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = cd.dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// Describe reports the current commit, branch, origin remote and whether the
// tree has uncommitted changes. ok is false outside a git repository.
func (cd *ChangeDetector) Describe() (info *Info, ok bool) {
	commit, err := cd.git("rev-parse", "HEAD")
	if err != nil || commit == "" {
		return nil, false
	}

	info = &Info{Commit: commit}
	if branch, err := cd.git("rev-parse", "--abbrev-ref", "HEAD"); err == nil && branch != "HEAD" {
		info.Branch = branch
	}
	if remote, err := cd.git("config", "--get", "remote.origin.url"); err == nil {
		info.Remote = remote
	}
	if prefix, err := cd.git("rev-parse", "--show-prefix"); err == nil {
		info.Prefix = prefix
	}
	if files, err := cd.GetChangedFiles(); err == nil {
		info.Changed = files
		info.Dirty = len(files) > 0
	}
	return info, true
}

// ChangedUnder returns the changed files below any of paths, which are
// relative to the detector directory.
func (i *Info) ChangedUnder(paths []string) []string {
	if i == nil {
		return nil
	}
	return filesUnder(i.Changed, i.Prefix, paths)
}

// GetChangedFiles returns staged, unstaged and untracked files, sorted
func (cd *ChangeDetector) GetChangedFiles() ([]string, error) {
	filesMap := make(map[string]bool)

	for _, args := range [][]string{
		{"diff", "--name-only"},
		{"diff", "--cached", "--name-only"},
		{"ls-files", "--others", "--exclude-standard", "--full-name"},
	} {
		output, err := cd.git(args...)
		if err != nil {
			return nil, err
		}
		for _, f := range strings.Split(output, "\n") {
			if f != "" {
				filesMap[f] = true
			}
		}
	}

	result := make([]string, 0, len(filesMap))
	for f := range filesMap {
		result = append(result, f)
	}
	sort.Strings(result)
	return result, nil
}

// GetChangedFilesUnderPaths returns changed files below any of paths, which
// are relative to the detector directory. Results are relative to the
// repository root.
func (cd *ChangeDetector) GetChangedFilesUnderPaths(paths []string) ([]string, error) {
	files, err := cd.GetChangedFiles()
	if err != nil {
		return nil, err
	}
	prefix, err := cd.git("rev-parse", "--show-prefix")
	if err != nil {
		return nil, err
	}
	return filesUnder(files, prefix, paths), nil
}

func filesUnder(files []string, prefix string, paths []string) []string {
	var result []string
	for _, file := range files {
		for _, p := range paths {
			p = strings.TrimSuffix(path.Join(prefix, p), "/")
			if p == "" || p == "." || strings.HasPrefix(file, p+"/") || file == p {
				result = append(result, file)
				break
			}
		}
	}
	return result
}
