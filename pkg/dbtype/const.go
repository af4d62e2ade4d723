package dbtype

// PageSize is the fixed size, in bytes, of every heap page and every
// B+-tree internal/leaf/header page. The buffer pool owns this constant
// conceptually (spec.md §4.1); it lives here because every page codec in
// this module needs it.
const PageSize = 4096

// RootPtrPageSize is the fixed, smaller size of the B+-tree root-pointer
// page: rootPageNumber(int32) + rootPageCategory(byte) +
// firstHeaderPageNumber(int32), padded to leave room for future growth
// without reflowing offsets (see DESIGN.md Open Question decisions).
const RootPtrPageSize = 13

// NewZeroedPage returns a freshly zeroed buffer of the given size —
// createEmptyPageData() from spec.md §4.1, generalized over page size so
// both heap/B+-tree pages and the root-pointer page can share it.
func NewZeroedPage(size int) []byte {
	return make([]byte, size)
}
