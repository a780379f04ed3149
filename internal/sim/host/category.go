package host

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is a resource category (the host's transfer reason).
type Category uint8

const (
	CategoryNone Category = iota
	CategoryGoods
	CategoryOil
	CategoryOre
	CategoryLogs
	CategoryGrain
	CategoryPetrol
	CategoryCoal
	CategoryLumber
	CategoryFood
	CategoryFish
	CategoryGarbage
	CategoryDead
	CategorySick
	CategoryMail
	CategoryAnimalProducts
	CategoryFlours
	CategoryPaper
	CategoryPlanedTimber
	CategoryPetroleum
	CategoryPlastics
	CategoryGlass
	CategoryMetals
	CategoryLuxuryProducts
	CategoryFire
	CategoryCrime
	CategorySnow
	categoryCount
)

var categoryNames = [...]string{
	CategoryNone:           "none",
	CategoryGoods:          "goods",
	CategoryOil:            "oil",
	CategoryOre:            "ore",
	CategoryLogs:           "logs",
	CategoryGrain:          "grain",
	CategoryPetrol:         "petrol",
	CategoryCoal:           "coal",
	CategoryLumber:         "lumber",
	CategoryFood:           "food",
	CategoryFish:           "fish",
	CategoryGarbage:        "garbage",
	CategoryDead:           "dead",
	CategorySick:           "sick",
	CategoryMail:           "mail",
	CategoryAnimalProducts: "animal_products",
	CategoryFlours:         "flours",
	CategoryPaper:          "paper",
	CategoryPlanedTimber:   "planed_timber",
	CategoryPetroleum:      "petroleum",
	CategoryPlastics:       "plastics",
	CategoryGlass:          "glass",
	CategoryMetals:         "metals",
	CategoryLuxuryProducts: "luxury_products",
	CategoryFire:           "fire",
	CategoryCrime:          "crime",
	CategorySnow:           "snow",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "category_" + strconv.Itoa(int(c))
}

func (c Category) Valid() bool { return c > CategoryNone && c < categoryCount }

// ParseCategory accepts a category name (case-insensitive) or its number.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < 256 {
		return Category(n), nil
	}
	return CategoryNone, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Categories lists every named category except CategoryNone.
func Categories() []Category {
	out := make([]Category, 0, int(categoryCount)-1)
	for c := CategoryNone + 1; c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}
