package control

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMapActuation(t *testing.T) {
	const deadZone = 350

	Convey("direction matches the sign of the effort", t, func() {
		So(MapActuation(5000, deadZone).Forward, ShouldBeTrue)
		So(MapActuation(-5000, deadZone).Forward, ShouldBeFalse)

		Convey("even below the dead zone", func() {
			So(MapActuation(10, deadZone).Forward, ShouldBeTrue)
			So(MapActuation(-10, deadZone).Forward, ShouldBeFalse)
		})
	})

	Convey("magnitudes below the dead zone clamp to exactly zero", t, func() {
		for _, effort := range []int64{0, 1, -1, 349, -349} {
			So(MapActuation(effort, deadZone).Duty, ShouldEqual, 0)
		}
	})

	Convey("magnitudes at or above the dead zone pass through unscaled", t, func() {
		So(MapActuation(350, deadZone).Duty, ShouldEqual, 350)
		So(MapActuation(-351, deadZone).Duty, ShouldEqual, 351)
		So(MapActuation(9999, deadZone).Duty, ShouldEqual, 9999)
	})

	Convey("the mapper never asserts brake", t, func() {
		So(MapActuation(5000, deadZone).Brake, ShouldBeFalse)
		So(MapActuation(0, deadZone).Brake, ShouldBeFalse)
	})
}
