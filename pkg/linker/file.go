package linker

import (
	"eld/pkg/utils"
	"os"
)

type File struct {
	Name     string
	Contents []byte

	Parent *File
}

func MustNewFile(filename string) *File {
	contents, err := os.ReadFile(filename)
	utils.MustNo(err)
	return &File{
		Name:     filename,
		Contents: contents,
	}
}

func OpenLibrary(path string) *File {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	return &File{Name: path, Contents: contents}
}

// FindLibrary resolves -lname against the -L search path. Directories are
// searched in command-line order; within one directory the static archive
// wins over the shared object unless --prefer-shared was given.
func FindLibrary(ctx *Context, name string) *File {
	exts := []string{".a", ".so"}
	if ctx.Arg.PreferShared {
		exts = []string{".so", ".a"}
	}

	for _, dir := range ctx.Arg.LibraryPaths {
		stem := dir + "/lib" + name
		for _, ext := range exts {
			if f := OpenLibrary(stem + ext); f != nil {
				return f
			}
		}
	}

	utils.Fatal("library not found: -l" + name)
	return nil
}
