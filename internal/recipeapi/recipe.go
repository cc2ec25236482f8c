package recipeapi

import (
	"math"
	"strings"

	"github.com/recipeapp/recipecache/pkg/types"
)

type searchResponse struct {
	From  int   `json:"from"`
	To    int   `json:"to"`
	Count int   `json:"count"`
	Hits  []hit `json:"hits"`
}

type hit struct {
	Recipe apiRecipe `json:"recipe"`
}

type apiRecipe struct {
	URI             string   `json:"uri"`
	Label           string   `json:"label"`
	Image           string   `json:"image"`
	Source          string   `json:"source"`
	URL             string   `json:"url"`
	Yield           float64  `json:"yield"`
	Calories        float64  `json:"calories"`
	TotalTime       float64  `json:"totalTime"`
	DietLabels      []string `json:"dietLabels"`
	HealthLabels    []string `json:"healthLabels"`
	IngredientLines []string `json:"ingredientLines"`
	CuisineType     []string `json:"cuisineType"`
	MealType        []string `json:"mealType"`
	DishType        []string `json:"dishType"`
}

type instructionsResponse struct {
	Instructions []string `json:"instructions"`
}

const recipeURIMarker = "#recipe_"

// recipeID extracts the stable id from a recipe URI such as
// http://www.edamam.com/ontologies/edamam.owl#recipe_b79327d05b8e5b838ad6cfd9576b30b6
func recipeID(uri string) string {
	if i := strings.LastIndex(uri, recipeURIMarker); i >= 0 {
		return uri[i+len(recipeURIMarker):]
	}
	return ""
}

func (r apiRecipe) toRecipe() types.Recipe {
	calories := r.Calories
	if r.Yield > 0 {
		calories = r.Calories / r.Yield
	}

	return types.Recipe{
		ID:              recipeID(r.URI),
		URI:             r.URI,
		Title:           strings.TrimSpace(r.Label),
		Image:           r.Image,
		URL:             r.URL,
		Source:          r.Source,
		Category:        category(r),
		Calories:        math.Round(calories),
		TotalTime:       r.TotalTime,
		Difficulty:      difficulty(r.TotalTime),
		Servings:        r.Yield,
		DietLabels:      r.DietLabels,
		HealthLabels:    r.HealthLabels,
		CuisineType:     r.CuisineType,
		IngredientLines: r.IngredientLines,
	}
}

func category(r apiRecipe) string {
	for _, list := range [][]string{r.DishType, r.MealType} {
		if len(list) > 0 && list[0] != "" {
			return strings.ToLower(list[0])
		}
	}
	return ""
}

// difficulty buckets total time in minutes; zero means unknown.
func difficulty(minutes float64) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes <= 30:
		return "easy"
	case minutes <= 60:
		return "medium"
	default:
		return "hard"
	}
}
