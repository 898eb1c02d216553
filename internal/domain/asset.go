package domain

type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindModel AssetKind = "model"
)

// Asset is the loaded, possibly transformed, in-memory representation of a
// remote resource. Assets are cached and returned by shared reference;
// callers must not mutate them.
type Asset interface {
	Kind() AssetKind
}

// ImageAsset holds the encoded bytes of a fetched image after the downscale
// transform has been applied (or the original bytes when no transform was
// needed), along with its intrinsic dimensions.
type ImageAsset struct {
	Data   []byte
	Format string

	Width  int
	Height int
}

func (ImageAsset) Kind() AssetKind {
	return AssetKindImage
}

// ModelAsset wraps the decoded 3D model produced by an external loader. The
// value is cached verbatim and shared between all callers.
type ModelAsset struct {
	Value any
}

func (ModelAsset) Kind() AssetKind {
	return AssetKindModel
}
