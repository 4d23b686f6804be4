package vfs

// DefaultSeed returns the tree served when no seed is configured.
func DefaultSeed() Seed {
	return Seed{
		"/file.txt":                 Content("contents"),
		"/file2.txt":                Content("contents2"),
		"/folder/file3.txt":         Content("contents3"),
		"/empty_folder":             nil,
		"/tree/file1.txt":           Content("x"),
		"/tree/file2.txt":           Content("y"),
		"/tree/subfolder/file3.txt": Content("z"),
		"/etc/apache2/apache2.conf": Content("Include other.conf"),
		Home:                        nil,
	}
}
