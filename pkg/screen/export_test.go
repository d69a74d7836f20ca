package screen

import "image"

func OverloadGrab(overload func() (*image.RGBA, error)) func() {
	grabRef := grab
	grab = overload
	return func() { grab = grabRef }
}
