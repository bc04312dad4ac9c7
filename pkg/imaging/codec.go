package imaging

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/png"
	"io"

	// image/gif と image/jpeg はデコード用に副作用インポートする。
	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// Compress は画像のバイト列をzlib形式で可逆圧縮する。
// アップロード時にBlobストアへ書き込む前に一度だけ呼び出す。
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("zlibライターの生成に失敗: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("画像データの圧縮に失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("圧縮ストリームのクローズに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress はCompressで圧縮したバイト列を元のバイト列に復元する。
// 任意のバイト列xに対して Decompress(Compress(x)) == x が成り立つ。
func Decompress(stored []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("zlibリーダーの生成に失敗: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("画像データの伸長に失敗: %w", err)
	}
	return raw, nil
}

// Resize は画像をwidth×heightピクセルに引き伸ばしてPNG形式で再エンコードする。
// アスペクト比は維持しない（切り抜きではなく変形）。
// デコードできないバイト列はエラーとなる。
func Resize(raw []byte, width, height int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("リサイズ画像のエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// SniffType は画像バイト列の形式を判定してMIMEタイプを返す。
// PNG・JPEG・GIFを認識し、デコードはできるが判別できない形式の場合は
// image/png を返す。デコード自体に失敗した場合はエラーとなる。
func SniffType(raw []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("画像形式の判定に失敗: %w", err)
	}

	switch format {
	case "png":
		return "image/png", nil
	case "jpeg":
		return "image/jpeg", nil
	case "gif":
		return "image/gif", nil
	default:
		return "image/png", nil
	}
}
