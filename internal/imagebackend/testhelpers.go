package imagebackend

// SetDimsForTest overrides an Image's cached dimensions without going
// through a real decode. It exists purely as a test seam for packages
// (like internal/engine) that need an Image with known dimensions to
// exercise unit resolution without shipping a real encoded payload.
func SetDimsForTest(img *Image, width, height int) {
	img.width = width
	img.height = height
}
