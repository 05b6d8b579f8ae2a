package cmd

import (
	"fmt"

	"github.com/ext4fs/ext4fs/backend/file"
	"github.com/ext4fs/ext4fs/ext4"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var fsckVerbose bool

var fsckCmd = &cobra.Command{
	Use:   "fsck <image>",
	Short: "Walk an ext4 image checking directory-tree consistency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		storage, err := file.OpenFromPath(path, true)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}

		fs, err := ext4.Mount(storage, ext4.DefaultConfig())
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		fs.SetLogger(log)
		defer fs.Close()

		var result error
		visited := map[uint32]bool{}
		count, err := walkCheck(fs.Root(), "/", visited, &result)
		if err != nil {
			result = multierror.Append(result, err)
		}

		if result != nil {
			return result
		}
		log.Infof("%s: OK (%d inodes visited)", path, count)
		return nil
	},
}

// walkCheck recurses the directory tree rooted at n, accumulating every
// non-fatal inconsistency it finds into result rather than aborting on
// the first one, so a single fsck run surfaces everything wrong with
// the tree in one pass.
func walkCheck(n *ext4.Node, path string, visited map[uint32]bool, result *error) (int, error) {
	if visited[n.Number] {
		*result = multierror.Append(*result, fmt.Errorf("%s: cycle back to inode %d", path, n.Number))
		return 0, nil
	}
	visited[n.Number] = true

	meta, err := n.Stat()
	if err != nil {
		return 0, fmt.Errorf("%s: stat: %w", path, err)
	}
	count := 1

	isDir, err := n.IsDir()
	if err != nil {
		return count, fmt.Errorf("%s: isdir: %w", path, err)
	}
	if !isDir {
		if fsckVerbose {
			log.Infof("%s: file, inode %d, size %d", path, n.Number, meta.Size)
		}
		return count, nil
	}

	entries, err := n.ReadDir()
	if err != nil {
		return count, fmt.Errorf("%s: readdir: %w", path, err)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child, err := n.Lookup(e.Name)
		if err != nil {
			*result = multierror.Append(*result, fmt.Errorf("%s%s: lookup failed: %w", path, e.Name, err))
			continue
		}
		if child.Number != e.Inode {
			*result = multierror.Append(*result, fmt.Errorf("%s%s: directory entry inode %d does not match lookup %d", path, e.Name, e.Inode, child.Number))
		}
		n, err := walkCheck(child, path+e.Name+"/", visited, result)
		if err != nil {
			*result = multierror.Append(*result, err)
		}
		count += n
	}
	return count, nil
}

func init() {
	fsckCmd.Flags().BoolVarP(&fsckVerbose, "list", "l", false, "print every visited file")
}
