package archive

import (
	"path"
	"sort"

	"tunevault/core/meta"
	"tunevault/logger"
)

type dirNode struct {
	name    string
	files   []Member
	subdirs map[string]*dirNode
}

func newDir(name string) *dirNode {
	return &dirNode{name: name, subdirs: make(map[string]*dirNode)}
}

func buildTree(members []Member) *dirNode {
	root := newDir("")
	for _, m := range members {
		dir, _ := path.Split(m.Name)
		node := root
		for _, seg := range splitDir(dir) {
			child, ok := node.subdirs[seg]
			if !ok {
				child = newDir(path.Join(node.name, seg))
				node.subdirs[seg] = child
			}
			node = child
		}
		node.files = append(node.files, m)
	}
	return root
}

func splitDir(dir string) []string {
	dir = path.Clean("/" + dir)
	if dir == "/" {
		return nil
	}
	var segs []string
	for dir != "/" {
		var base string
		dir, base = path.Dir(dir), path.Base(dir)
		segs = append([]string{base}, segs...)
	}
	return segs
}

// Resolve walks the member hierarchy. A directory's own cover applies to its
// audio members and to every subdirectory that does not define one.
func Resolve(members []Member) Result {
	var res Result
	used := make(map[string]bool)
	walk(buildTree(members), nil, &res, used)
	return res
}

func walk(node *dirNode, inherited *CoverArtifact, res *Result, used map[string]bool) {
	current := inherited
	if own := directoryCover(node); own != nil {
		current = own
	}

	for _, m := range node.files {
		if current != nil && m.Name == current.Ref {
			continue
		}
		parser, ok := meta.Identify(m.Data)
		if !ok {
			logger.Info("archive member skipped, not audio", logger.String("name", m.Name))
			res.Skipped = append(res.Skipped, m.Name)
			continue
		}
		unit := ExtractedUnit{
			Name:     m.Name,
			Data:     m.Data,
			Parser:   parser,
			Metadata: parser.Parse(m.Data, m.Name),
		}
		if current != nil {
			unit.CoverRef = current.Ref
			if !used[current.Ref] {
				used[current.Ref] = true
				res.Covers = append(res.Covers, *current)
			}
		}
		res.Tracks = append(res.Tracks, unit)
	}

	names := make([]string, 0, len(node.subdirs))
	for name := range node.subdirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		walk(node.subdirs[name], current, res, used)
	}
}

// directoryCover returns the best-ranked decodable cover image directly in
// node, or nil.
func directoryCover(node *dirNode) *CoverArtifact {
	var best *CoverArtifact
	bestRank := 0
	for _, m := range node.files {
		rank, ok := meta.CoverRank(m.Name)
		if !ok {
			continue
		}
		info, err := meta.InspectImage(m.Data)
		if err != nil {
			logger.Warn("directory cover unreadable", logger.String("name", m.Name), logger.ErrorField(err))
			continue
		}
		if best == nil || rank < bestRank {
			best = &CoverArtifact{Ref: m.Name, Dir: node.name, Data: m.Data, Info: info}
			bestRank = rank
		}
	}
	return best
}
