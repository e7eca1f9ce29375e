package process

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Keypoint is a projected 2D mesh keypoint with its confidence.
type Keypoint struct {
	X, Y       float64
	Confidence float64
}

// RasterizeKeypoints fills the convex hull of the keypoints whose confidence
// exceeds minConf into a width x height occupancy field. It returns nil when
// fewer than three keypoints qualify.
func RasterizeKeypoints(kps []Keypoint, width, height int, minConf float64) []float32 {
	if width <= 0 || height <= 0 {
		return nil
	}

	var pts []image.Point
	for _, kp := range kps {
		if kp.Confidence > minConf {
			pts = append(pts, image.Pt(int(kp.X+0.5), int(kp.Y+0.5)))
		}
	}
	if len(pts) < 3 {
		return nil
	}

	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(pv, &hull, true, false)

	poly := make([]image.Point, 0, hull.Rows())
	for i := 0; i < hull.Rows(); i++ {
		poly = append(poly, pts[hull.GetIntAt(i, 0)])
	}
	if len(poly) < 3 {
		return nil
	}

	canvas := gocv.Zeros(height, width, gocv.MatTypeCV8U)
	defer canvas.Close()

	polys := gocv.NewPointsVectorFromPoints([][]image.Point{poly})
	defer polys.Close()
	gocv.FillPoly(&canvas, polys, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	data := canvas.ToBytes()
	field := make([]float32, width*height)
	for i, v := range data[:len(field)] {
		if v != 0 {
			field[i] = 1
		}
	}
	return field
}
